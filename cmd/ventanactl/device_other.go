//go:build !linux

package main

import "github.com/pkg/errors"

func setupDevice() error {
	return errors.New("the goble transport needs Linux HCI; use --transport bluez or sim")
}
