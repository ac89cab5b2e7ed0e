// Command hermes runs the classifying LLM router gateway.
package main

func main() {
	Execute()
}
