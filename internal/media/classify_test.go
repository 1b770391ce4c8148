package media

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"huddle/client/internal/domain"
)

func TestClassifyCaptureFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.MediaErrorKind
	}{
		{
			name: "wrapped os permission error",
			err:  fmt.Errorf("open /dev/video0: %w", os.ErrPermission),
			want: domain.MediaPermissionDenied,
		},
		{
			name: "permission prose",
			err:  errors.New("videoioctl: Operation not permitted"),
			want: domain.MediaPermissionDenied,
		},
		{
			name: "no matching driver",
			err:  errors.New("failed to find the best driver that fits the constraints"),
			want: domain.MediaDeviceNotFound,
		},
		{
			name: "missing device node",
			err:  errors.New("open /dev/video0: no such device"),
			want: domain.MediaDeviceNotFound,
		},
		{
			name: "device held by another process",
			err:  errors.New("open /dev/video0: device or resource busy"),
			want: domain.MediaDeviceBusy,
		},
		{
			name: "unsatisfiable constraints",
			err:  errors.New("unsupported property: frameRate"),
			want: domain.MediaConstraintsUnsatisfiable,
		},
		{
			name: "anything else",
			err:  errors.New("capture worker exited"),
			want: domain.MediaAborted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if got.Kind != tc.want {
				t.Errorf("kind = %s, want %s", got.Kind, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Error("original error not preserved in chain")
			}
			if got.Remediation() == "" {
				t.Error("no remediation text")
			}
		})
	}
}
