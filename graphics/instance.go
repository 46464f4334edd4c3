package graphics

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Initialize loads the Vulkan loader and resolves the global entry points.
// It must be called once before any other call in this package. When a
// windowing surface will be used the caller should set the proc addr from
// the window library first (see GLFWSurface).
func Initialize() error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("vulkan init: %w", err)
	}
	return nil
}

// InitializeWithProcAddr resolves the global entry points through a proc
// addr supplied by the window library.
func InitializeWithProcAddr(procAddr unsafe.Pointer) error {
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("vulkan init: %w", err)
	}
	return nil
}

// Version identifies a component version in Vulkan's packed format.
type Version struct {
	Major int
	Minor int
	Patch int
}

// VKVersion returns the Vulkan compatible version representation.
func (v Version) VKVersion() uint32 {
	return vk.MakeVersion(v.Major, v.Minor, v.Patch)
}

// App describes this application to Vulkan and accumulates the layers and
// extensions the instance will be created with.
type App struct {
	Name       string
	EngineName string
	Version    Version
	// APIVersion is the minimum Vulkan API version required (defaults to 1.1).
	APIVersion Version

	EnabledLayers     []string
	EnabledExtensions []string
}

// SupportedLayers returns the instance layers the loader reports.
func SupportedLayers() ([]string, error) {
	var count uint32
	err := vk.Error(vk.EnumerateInstanceLayerProperties(&count, nil))
	if err != nil {
		return nil, err
	}
	props := make([]vk.LayerProperties, count)
	err = vk.Error(vk.EnumerateInstanceLayerProperties(&count, props))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.LayerName[:]))
	}
	return names, nil
}

// SupportedInstanceExtensions returns the instance extensions the loader
// reports.
func SupportedInstanceExtensions() ([]string, error) {
	var count uint32
	err := vk.Error(vk.EnumerateInstanceExtensionProperties("", &count, nil))
	if err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	err = vk.Error(vk.EnumerateInstanceExtensionProperties("", &count, props))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.ExtensionName[:]))
	}
	return names, nil
}

// EnableValidation turns on the Khronos validation layer and the debug
// reporting extensions. Call before CreateInstance.
func (a *App) EnableValidation() error {
	if _, err := a.EnableLayer("VK_LAYER_KHRONOS_validation"); err != nil {
		return err
	}
	a.EnableExtension("VK_EXT_debug_report")
	return nil
}

// EnableLayer enables a layer after checking the loader supports it.
func (a *App) EnableLayer(layer string) (*App, error) {
	layers, err := SupportedLayers()
	if err != nil {
		return a, fmt.Errorf("error getting supported layers: %w", err)
	}
	for _, l := range layers {
		if l == layer {
			a.EnabledLayers = append(a.EnabledLayers, layer)
			return a, nil
		}
	}
	return a, fmt.Errorf("layer %q not found", layer)
}

// EnableExtension enables an instance extension.
func (a *App) EnableExtension(extension string) *App {
	a.EnabledExtensions = append(a.EnabledExtensions, extension)
	return a
}

// EnableExtensions enables a list of instance extensions, typically the
// set reported by the window library.
func (a *App) EnableExtensions(extensions []string) *App {
	a.EnabledExtensions = append(a.EnabledExtensions, extensions...)
	return a
}

// VKApplicationInfo builds the application info structure.
func (a *App) VKApplicationInfo() vk.ApplicationInfo {
	if a.APIVersion.Major < 1 {
		a.APIVersion = Version{Major: 1, Minor: 1}
	}
	return vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         a.APIVersion.VKVersion(),
		ApplicationVersion: a.Version.VKVersion(),
		PApplicationName:   safeString(a.Name),
		PEngineName:        safeString(a.EngineName),
	}
}

// CreateInstance creates the Vulkan instance.
func (a *App) CreateInstance() (*Instance, error) {
	appInfo := a.VKApplicationInfo()

	extensions := safeStrings(a.EnabledExtensions)
	layers := safeStrings(a.EnabledLayers)

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	instance := &Instance{}

	err := vk.Error(vk.CreateInstance(&createInfo, nil, &instance.VKInstance))
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	vk.InitInstance(instance.VKInstance)

	Logger().Info("vulkan instance created",
		"app", a.Name,
		"layers", len(layers),
		"extensions", len(extensions))

	return instance, nil
}

// Instance owns the native Vulkan instance object.
type Instance struct {
	VKInstance vk.Instance

	debugCallback vk.DebugReportCallback
}

// UseDefaultDebugCallback installs a callback that routes validation
// messages through the package logger.
func (i *Instance) UseDefaultDebugCallback() error {
	return i.SetDebugCallback(defaultDebugCallback)
}

func (i *Instance) SetDebugCallback(callback vk.DebugReportCallbackFunc) error {
	ret := vk.CreateDebugReportCallback(i.VKInstance, &vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: callback,
	}, nil, &i.debugCallback)
	return vk.Error(ret)
}

func defaultDebugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		Logger().Error(pMessage, "layer", pLayerPrefix, "code", messageCode)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		Logger().Warn(pMessage, "layer", pLayerPrefix, "code", messageCode)
	default:
		Logger().Debug(pMessage, "layer", pLayerPrefix, "code", messageCode)
	}
	return vk.Bool32(vk.False)
}

func (i *Instance) Destroy() {
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.VKInstance, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(i.VKInstance, nil)
	i.VKInstance = nil
}
