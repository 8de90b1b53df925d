//go:build linux

package main

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
)

// setupDevice opens the default HCI device for the goble transport
func setupDevice() error {
	d, err := linux.NewDevice()
	if err != nil {
		return errors.Wrap(err, "can't open HCI device")
	}
	ble.SetDefaultDevice(d)
	return nil
}
