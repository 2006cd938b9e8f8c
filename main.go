// Package main is a module which serves the person follower vision service.
package main

import (
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"

	"go.viam.com/rdk/module"

	"github.com/viam-modules/person-follower/follower"
)

func main() {
	module.ModularMain(resource.APIModel{API: vision.API, Model: follower.Model})
}
