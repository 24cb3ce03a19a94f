package main

import (
	"os"

	"github.com/angusf777/CrowdInsight/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
