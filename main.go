package main

import "buildwatch/internal/app"

func main() {
	app.Main()
}
