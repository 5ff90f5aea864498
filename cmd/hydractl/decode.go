package main

import (
	"encoding/json"
	"fmt"

	"github.com/hydrahook/hydrahook/internal/ipc"
)

func decode(env *ipc.Envelope, out any) error {
	if env.Error != "" {
		return fmt.Errorf("remote error: %s", env.Error)
	}
	return json.Unmarshal(env.Payload, out)
}
