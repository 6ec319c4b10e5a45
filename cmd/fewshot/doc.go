// Command fewshot plans, inspects, and evaluates few-shot episodes.
//
//	fewshot plan                 plan the train, val and test episode sets
//	fewshot plan --save          ...and store them
//	fewshot runs                 list stored runs
//	fewshot inspect 12           show planned episode 12 of the test split
//	fewshot eval --plot acc.png  score the test episodes with a matching network
//	fewshot config init|show     write or print the configuration
//
// Settings come from ~/.config/fewshot/config.toml, ./fewshot.toml, or --config.
package main
