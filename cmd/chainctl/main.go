// Package main provides chainctl, a command line companion to the quizchain
// service.
//
// Usage:
//
//	chainctl run <start-url>
//	chainctl tiers
//	chainctl runs
//
// Settings come from the same environment variables as the service.
package main

func main() {
	Execute()
}
