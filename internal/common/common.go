// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package common provides small OS-facing helpers shared by shm and
// robust: open/create retry semantics and syscall error classification.
package common

import (
	"os"

	"github.com/shmbus/shmbus"
)

// OpenOrCreate implements the three-way open semantics of shmbus.OpenMode on
// top of a creator callback that performs the actual OS call. creator(true)
// attempts a create-exclusive open, creator(false) attempts an open-only.
func OpenOrCreate(creator func(create bool) error, mode shmbus.OpenMode) (created bool, err error) {
	switch mode {
	case shmbus.OpenOnly:
		return false, creator(false)
	case shmbus.CreateOnly:
		if err = creator(true); err != nil {
			return false, err
		}
		return true, nil
	case shmbus.OpenOrCreate:
		const attempts = 16
		for attempt := 0; attempt < attempts; attempt++ {
			if err = creator(true); !os.IsExist(err) {
				return true, err
			}
			if err = creator(false); !os.IsNotExist(err) {
				return false, err
			}
		}
		return false, err
	default:
		return false, &os.PathError{Op: "open", Err: os.ErrInvalid}
	}
}
