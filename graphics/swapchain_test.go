package graphics

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestChoosePresentMode(t *testing.T) {
	modes := VKPresentModes{vk.PresentModeImmediate, vk.PresentModeMailbox, vk.PresentModeFifo}

	if got := choosePresentMode(modes, nil); got != vk.PresentModeMailbox {
		t.Fatalf("no preference picked %v, want mailbox", got)
	}

	// An explicit immediate preference must be honored, not mistaken for
	// "unset".
	immediate := vk.PresentModeImmediate
	if got := choosePresentMode(modes, &immediate); got != vk.PresentModeImmediate {
		t.Fatalf("immediate preference picked %v", got)
	}

	fifoOnly := VKPresentModes{vk.PresentModeFifo}
	if got := choosePresentMode(fifoOnly, &immediate); got != vk.PresentModeFifo {
		t.Fatalf("unsupported preference picked %v, want fifo", got)
	}
	if got := choosePresentMode(fifoOnly, nil); got != vk.PresentModeFifo {
		t.Fatalf("fifo-only surface picked %v", got)
	}
}
