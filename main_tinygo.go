//go:build tinygo

package main

import (
	"github.com/Pjottos/gocycling-controller/app"
	"github.com/Pjottos/gocycling-controller/hal"
)

func main() {
	app.Run(hal.New())
}
