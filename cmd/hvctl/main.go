// Command hvctl runs hypothesis verification on synthetic scenes and
// renders the result.
package main

func main() {
	Execute()
}
