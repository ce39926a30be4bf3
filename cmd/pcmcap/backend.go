package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/config"
	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/hal/malgo"
	"github.com/petems/pcmcap/internal/hal/portaudio"
)

func openBackend(name string, log zerolog.Logger) (hal.Backend, error) {
	switch name {
	case config.BackendPortAudio:
		b, err := portaudio.New(log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMalgo:
		b, err := malgo.New(log)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}
