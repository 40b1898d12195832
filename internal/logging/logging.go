// Package logging builds the process-wide zap logger. Threaded
// through constructors explicitly (never a package-level global),
// matching the dependency-injected style AetherFlow's service
// constructors use zap in.
package logging

import "go.uber.org/zap"

func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
