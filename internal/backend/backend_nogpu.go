//go:build !gpu

package backend

import "errors"

const gpuEnabled = false

var errGPUUnavailable = errors.New("gpu backend not included in this build")

func newGPU(lowPower bool) (Backend, error) {
	return nil, errGPUUnavailable
}
