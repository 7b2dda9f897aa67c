package main

import "github.com/senchpimy/image-ocr/cmd"

func main() {
	cmd.Execute()
}
