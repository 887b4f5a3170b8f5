package vulkan

import (
	"fmt"
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/core"
)

// VulkanDevice is the selected physical device with its logical device and queues.
type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	TransferQueueIndex uint32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Transfer             bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	TransferFamilyIndex int32
}

func DeviceCreate(ctx *VulkanContext) (*VulkanDevice, error) {
	device, err := SelectPhysicalDevice(ctx)
	if err != nil {
		return nil, err
	}

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{device.GraphicsQueueIndex}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		indices = append(indices, device.PresentQueueIndex)
	}
	if device.TransferQueueIndex != device.GraphicsQueueIndex && device.TransferQueueIndex != device.PresentQueueIndex {
		indices = append(indices, device.TransferQueueIndex)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: device.Features.SamplerAnisotropy,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	portability, err := hasDeviceExtension(device.PhysicalDevice, "VK_KHR_portability_subset")
	if err != nil {
		return nil, err
	}
	if portability {
		core.LogInfo("adding required extension", "extension", "VK_KHR_portability_subset")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	var logical vk.Device
	if err := resultError(vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, ctx.Allocator, &logical), "vkCreateDevice"); err != nil {
		return nil, err
	}
	device.LogicalDevice = logical

	vk.GetDeviceQueue(logical, device.GraphicsQueueIndex, 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(logical, device.PresentQueueIndex, 0, &device.PresentQueue)
	vk.GetDeviceQueue(logical, device.TransferQueueIndex, 0, &device.TransferQueue)

	if !DeviceDetectDepthFormat(device) {
		vk.DestroyDevice(logical, ctx.Allocator)
		return nil, errors.New("no supported depth format")
	}
	core.LogInfo("logical device created",
		"graphics", device.GraphicsQueueIndex,
		"present", device.PresentQueueIndex,
		"transfer", device.TransferQueueIndex)
	return device, nil
}

func DeviceDestroy(ctx *VulkanContext, device *VulkanDevice) {
	device.GraphicsQueue = nil
	device.PresentQueue = nil
	device.TransferQueue = nil
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, ctx.Allocator)
		device.LogicalDevice = nil
	}
	device.PhysicalDevice = nil
}

// DeviceDetectDepthFormat picks the first of D32, D32S8 and D24S8 usable as an optimal-tiling depth attachment.
func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}

func SelectPhysicalDevice(ctx *VulkanContext) (*VulkanDevice, error) {
	var count uint32
	if err := resultError(vk.EnumeratePhysicalDevices(ctx.Instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if err := resultError(vk.EnumeratePhysicalDevices(ctx.Instance, &count, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		SamplerAnisotropy:    true,
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// A discrete GPU is preferred; the first integrated one meeting the rest is the fallback.
	var fallback *VulkanDevice
	for _, pd := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		properties.Limits.Deref()
		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()
		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
		memory.Deref()

		relaxed := requirements
		relaxed.DiscreteGPU = false
		queueInfo, ok := PhysicalDeviceMeetsRequirements(pd, ctx.Surface, &properties, &features, &relaxed)
		if !ok {
			continue
		}
		candidate := &VulkanDevice{
			PhysicalDevice:     pd,
			GraphicsQueueIndex: uint32(queueInfo.GraphicsFamilyIndex),
			PresentQueueIndex:  uint32(queueInfo.PresentFamilyIndex),
			TransferQueueIndex: uint32(queueInfo.TransferFamilyIndex),
			Properties:         properties,
			Features:           features,
			Memory:             memory,
		}
		if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			if fallback == nil {
				fallback = candidate
			}
			continue
		}
		logDeviceInfo(candidate)
		return candidate, nil
	}
	if fallback != nil {
		core.LogWarn("no discrete GPU found, using fallback device")
		logDeviceInfo(fallback)
		return fallback, nil
	}
	return nil, errors.New("no physical devices were found which meet the requirements")
}

func logDeviceInfo(device *VulkanDevice) {
	properties := device.Properties
	core.LogInfo("selected device",
		"name", cString(properties.DeviceName[:]),
		"type", deviceTypeName(properties.DeviceType),
		"driver", versionString(properties.DriverVersion),
		"api", versionString(properties.ApiVersion))
	for i := 0; i < int(device.Memory.MemoryHeapCount); i++ {
		heap := device.Memory.MemoryHeaps[i]
		heap.Deref()
		local := vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0
		core.LogInfo("memory heap", "index", i, "gib", float64(heap.Size)/(1<<30), "device_local", local)
	}
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "unknown"
}

func versionString(v uint32) string {
	version := vk.Version(v)
	return fmt.Sprintf("%d.%d.%d", version.Major(), version.Minor(), version.Patch())
}

/**
 * @brief Checks queue families, swapchain support, required extensions and
 * anisotropy. Queue family indices are -1 until a family is found.
 */
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		PresentFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		return info, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		score := 0
		if flags&vk.QueueGraphicsBit != 0 {
			if info.GraphicsFamilyIndex < 0 {
				info.GraphicsFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueComputeBit != 0 {
			score++
		}
		// The family with the fewest other capabilities is most likely a dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			info.TransferFamilyIndex = int32(i)
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if supportsPresent == vk.True && info.PresentFamilyIndex < 0 {
			info.PresentFamilyIndex = int32(i)
		}
	}

	name := cString(properties.DeviceName[:])
	if (requirements.Graphics && info.GraphicsFamilyIndex < 0) ||
		(requirements.Present && info.PresentFamilyIndex < 0) ||
		(requirements.Transfer && info.TransferFamilyIndex < 0) {
		core.LogDebug("device lacks required queues, skipping", "device", name)
		return info, false
	}

	var formatCount, modeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, nil)
	if formatCount == 0 || modeCount == 0 {
		core.LogDebug("required swapchain support not present, skipping", "device", name)
		return info, false
	}

	for _, ext := range requirements.DeviceExtensionNames {
		ok, err := hasDeviceExtension(device, ext)
		if err != nil || !ok {
			core.LogDebug("required extension not found, skipping", "device", name, "extension", ext)
			return info, false
		}
	}
	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogDebug("device does not support samplerAnisotropy, skipping", "device", name)
		return info, false
	}
	return info, true
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) (bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return false, err
	}
	available := make([]vk.ExtensionProperties, count)
	if err := resultError(vk.EnumerateDeviceExtensionProperties(device, "", &count, available), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return false, err
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}
