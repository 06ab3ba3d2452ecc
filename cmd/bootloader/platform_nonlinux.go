//go:build !linux

package main

import (
	"errors"

	"oscilla.audio/boot"
)

type Platform struct {
	orch *boot.Orchestrator
}

func Init() (*Platform, error) {
	return nil, errors.New("unsupported platform")
}

func (p *Platform) Run() error {
	return nil
}
