//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework CoreGraphics
#include <CoreGraphics/CoreGraphics.h>

int checkScreenCapturePermission() {
    return CGPreflightScreenCaptureAccess() ? 1 : 0;
}

int requestScreenCapturePermission() {
    return CGRequestScreenCaptureAccess() ? 1 : 0;
}
*/
import "C"

import "fmt"

// CheckScreenCapture reports whether the process already holds Screen
// Recording permission, without prompting.
func CheckScreenCapture() bool {
	return int(C.checkScreenCapturePermission()) == 1
}

// RequestScreenCapture triggers the system Screen Recording dialog and
// reports whether access was granted.
func RequestScreenCapture() bool {
	return int(C.requestScreenCapturePermission()) == 1
}

// EnsurePermissions checks and requests all required permissions. Capturing
// another application's audio through ScreenCaptureKit needs Screen Recording
// access even though no video is recorded.
func EnsurePermissions() error {
	if CheckScreenCapture() {
		return nil
	}
	if RequestScreenCapture() {
		return nil
	}

	fmt.Println("⚠️  Screen Recording permission required")
	fmt.Println("   Go to: System Settings → Privacy & Security → Screen Recording")
	fmt.Println("   Enable access for your terminal, then run this command again")
	return fmt.Errorf("screen recording permission not granted")
}
