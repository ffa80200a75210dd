//go:build !linux

package status

import "errors"

var errUnsupported = errors.New("not supported on this platform")

func Uptime() (string, error) { return "", errUnsupported }

func Memory() (string, error) { return "", errUnsupported }

func Disk(string) (string, error) { return "", errUnsupported }
