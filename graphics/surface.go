package graphics

import (
	"fmt"
	"unsafe"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

// Surface is the windowing collaborator a render target draws to. The
// resize notification must only record that a resize happened; the render
// loop reacts to it between frames.
type Surface interface {
	// CreateVulkanSurface creates the native surface for the instance.
	CreateVulkanSurface(instance *Instance) (vk.Surface, error)
	// FramebufferSize returns the drawable size in pixels.
	FramebufferSize() (width, height int)
	// RequiredInstanceExtensions lists the instance extensions the
	// window system needs.
	RequiredInstanceExtensions() []string
	// OnResize registers a callback fired when the drawable size
	// changes.
	OnResize(fn func(width, height int))
}

// GLFWSurface adapts a glfw window to the Surface interface.
type GLFWSurface struct {
	Window *glfw.Window
}

func NewGLFWSurface(window *glfw.Window) *GLFWSurface {
	return &GLFWSurface{Window: window}
}

func (s *GLFWSurface) CreateVulkanSurface(instance *Instance) (vk.Surface, error) {
	surface, err := s.Window.CreateWindowSurface(instance.VKInstance, nil)
	if err != nil {
		return vk.NullSurface, fmt.Errorf("create window surface: %w", err)
	}
	return vk.SurfaceFromPointer(surface), nil
}

func (s *GLFWSurface) FramebufferSize() (int, int) {
	return s.Window.GetFramebufferSize()
}

func (s *GLFWSurface) RequiredInstanceExtensions() []string {
	return s.Window.GetRequiredInstanceExtensions()
}

// InstanceProcAddr returns glfw's vkGetInstanceProcAddr so the loader
// resolves through the same library that owns the window.
func (s *GLFWSurface) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (s *GLFWSurface) OnResize(fn func(width, height int)) {
	s.Window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		fn(width, height)
	})
}
