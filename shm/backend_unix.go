// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package shm

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/common"
)

// backend is the OS-facing half of Object: a shm_open'd file plus its mmap.
type backend struct {
	file *os.File
	data []byte
}

func openBackend(name string, mode shmbus.OpenMode, size int, perm os.FileMode) (b *backend, created bool, err error) {
	path, err := shmName(name)
	if err != nil {
		return nil, false, errors.Wrap(err, "backend: resolve name")
	}
	var file *os.File
	created, err = common.OpenOrCreate(func(create bool) error {
		flags := os.O_RDWR
		if create {
			flags |= os.O_CREATE | os.O_EXCL
		}
		f, openErr := shmOpen(path, flags, perm)
		if openErr != nil {
			return openErr
		}
		file = f
		return nil
	}, mode)
	if err != nil {
		return nil, false, errors.Wrap(err, "backend: open")
	}
	if created {
		if err = file.Truncate(int64(size)); err != nil {
			file.Close()
			doDestroyMemoryObject(path)
			return nil, false, errors.Wrap(err, "backend: truncate")
		}
	} else {
		info, statErr := file.Stat()
		if statErr != nil {
			file.Close()
			return nil, false, errors.Wrap(statErr, "backend: stat")
		}
		size = int(info.Size())
	}
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		if created {
			doDestroyMemoryObject(path)
		}
		return nil, false, errors.Wrap(err, "backend: mmap")
	}
	return &backend{file: file, data: data}, created, nil
}

func (b *backend) bytes() []byte {
	return b.data
}

func (b *backend) name() string {
	return b.file.Name()
}

func (b *backend) close() error {
	var err error
	if len(b.data) > 0 {
		err = unix.Munmap(b.data)
		b.data = nil
	}
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *backend) unlink() error {
	return doDestroyMemoryObject(b.file.Name())
}

// destroyByName removes the OS object without requiring it to be mapped.
func destroyByName(name string) error {
	path, err := shmName(name)
	if err != nil {
		return errors.Wrap(err, "backend: resolve name")
	}
	return doDestroyMemoryObject(path)
}
