package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"github.com/google/uuid"
)

const DeviceIDKey = "device.id"

var ErrBlankDeviceID = errors.New("stored device id is blank")

// EnsureDeviceIdentity returns the installation's device id, generating and
// persisting one only when none has been stored yet. A stored id is never
// replaced; a blank one is reported instead.
func EnsureDeviceIdentity(ctx context.Context, state ports.InstallationState) (domain.DeviceID, error) {
	value, err := state.Get(ctx, DeviceIDKey)
	switch {
	case err == nil && strings.TrimSpace(value) == "":
		return "", fmt.Errorf("load device identity: %w", ErrBlankDeviceID)
	case err == nil:
		return domain.DeviceID(value), nil
	case !errors.Is(err, domain.ErrStateKeyNotFound):
		return "", fmt.Errorf("load device identity: %w", err)
	}

	id := domain.DeviceID(uuid.NewString())
	if err := state.Put(ctx, DeviceIDKey, string(id)); err != nil {
		return "", fmt.Errorf("save device identity: %w", err)
	}

	return id, nil
}
