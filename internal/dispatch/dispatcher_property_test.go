//go:build property

package dispatch

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyPaths = []string{
	"source/stylesheets/site.css.scss",
	"source/stylesheets/partials/_grid.scss",
	"source/javascripts/app.js",
	"source/javascripts/vendor/lib.es6",
	"source/images/logo.png",
	"source/images/sprites/arrow.png",
	"source/images/sprites/arrow@2x.png",
	"source/index.html.slim",
	"config.rb",
	"README.md",
}

func TestRuleMatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	rules := siteRules(t)

	properties.Property("only stylesheet changes queue sass", prop.ForAll(
		func(idx int) bool {
			path := propertyPaths[idx]
			runsSass := false
			for _, r := range rules.Match(path) {
				for _, task := range r.Tasks {
					if task == "sass" {
						runsSass = true
					}
				}
			}
			return runsSass == strings.HasPrefix(path, "source/stylesheets/")
		},
		gen.IntRange(0, len(propertyPaths)-1),
	))

	properties.Property("sprite sources never trigger the image refresh", prop.ForAll(
		func(name string) bool {
			for _, r := range rules.Match("source/images/sprites/" + name + ".png") {
				if r.Name == "images" {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
	))

	properties.Property("match indexes follow table order", prop.ForAll(
		func(idx int) bool {
			got := rules.matchIndexes(propertyPaths[idx])
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					return false
				}
			}
			return len(got) == len(rules.Match(propertyPaths[idx]))
		},
		gen.IntRange(0, len(propertyPaths)-1),
	))

	properties.TestingRun(t)
}
