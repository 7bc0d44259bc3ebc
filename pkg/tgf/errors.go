package tgf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid TGF magic")
	ErrUnsupportedMajor = errors.New("unsupported TGF major version")
	ErrCorruptFile      = errors.New("corrupt TGF container")
)
