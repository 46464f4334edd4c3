// Package graphics is a Vulkan rendering layer built on vulkan-go. It
// covers instance and device bring-up with scored device selection,
// queue family assignment, memory allocation with sub-allocating pools,
// buffers and images, shader reflection with merged pipeline layouts,
// render stages with per-swapchain-image framebuffers, and a frame loop
// with a frames-in-flight sync ring and swapchain recreation.
//
// The package is silent by default; install a logger with SetLogger to
// see device selection, feature negotiation and swapchain events.
package graphics
