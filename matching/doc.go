// Package matching scores few-shot episodes with a non-parametric matching
// network: cosine (or euclidean) attention from each query sample over the
// support set of its episode.
//
// It depends only on datasets.EpisodeBatch, so it works with any Dataset that
// follows the retrieval contract.
package matching
