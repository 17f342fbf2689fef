// Command loopgraph runs model-driven system design interviews on the
// resumable graph engine.
package main

func main() {
	Execute()
}
