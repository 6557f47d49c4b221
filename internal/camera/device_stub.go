//go:build !gocv
// +build !gocv

package camera

import "errors"

// OpenDevice 在未启用 gocv 构建标签时不可用
func OpenDevice(id int) (Source, error) {
	_ = id
	return nil, errors.New("gocv build tag is not enabled")
}
