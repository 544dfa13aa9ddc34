// Command client is the interactive test client for the Radio Mirchi API.
// It creates missions, waits for them to become ready and joins the live
// broadcast, playing host audio locally while forwarding typed lines.
package main

func main() {
	Execute()
}
