//go:build gocv
// +build gocv

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Device 通过 OpenCV 读取 USB/UVC 工业相机
type Device struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// OpenDevice 打开指定编号的相机
func OpenDevice(id int) (Source, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("打开相机 %d 失败: %w", id, err)
	}
	return &Device{cap: vc, mat: gocv.NewMat()}, nil
}

// Flush 丢弃驱动缓冲区中的旧帧 (卷帘快门 / USB 相机尤其需要)
func (d *Device) Flush(ctx context.Context, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := d.cap.Read(&d.mat); !ok {
			return errors.New("camera read failed during flush")
		}
	}
	return nil
}

// Capture 读取一帧并转换为 image.Image
func (d *Device) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, errors.New("camera returned empty frame")
	}
	return d.mat.ToImage()
}

// Close 释放相机和缓冲区
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mat.Close()
	return d.cap.Close()
}
