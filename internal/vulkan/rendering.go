package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// Dynamic rendering is emulated with render passes and framebuffers built on
// first use and cached for the life of the device. Every attachment starts
// and ends the pass in the layout it is rendered in; callers do their own
// transitions with barriers.

const maxColorAttachments = 4

type attachmentKey struct {
	format gpu.Format
	layout gpu.ImageLayout
	load   gpu.LoadOp
	store  gpu.StoreOp
}

type passKey struct {
	colors    [maxColorAttachments]attachmentKey
	numColors int
	depth     attachmentKey
	hasDepth  bool
}

type framebufferKey struct {
	pass   passKey
	views  [maxColorAttachments + 1]*imageView
	extent gpu.Extent2D
}

func (k framebufferKey) uses(v *imageView) bool {
	for _, view := range k.views {
		if view == v {
			return true
		}
	}
	return false
}

func attachment(a gpu.RenderingAttachment) attachmentKey {
	return attachmentKey{format: a.Format, layout: a.Layout, load: a.LoadOp, store: a.StoreOp}
}

func renderingKeys(info gpu.RenderingInfo) (passKey, framebufferKey, error) {
	var pass passKey
	var fb framebufferKey
	if len(info.ColorAttachments) > maxColorAttachments {
		return pass, fb, errors.AssertionFailedf("%d color attachments, at most %d supported", len(info.ColorAttachments), maxColorAttachments)
	}
	pass.numColors = len(info.ColorAttachments)
	for i, a := range info.ColorAttachments {
		pass.colors[i] = attachment(a)
		fb.views[i] = a.View.(*imageView)
	}
	if info.DepthAttachment != nil {
		pass.hasDepth = true
		pass.depth = attachment(*info.DepthAttachment)
		fb.views[pass.numColors] = info.DepthAttachment.View.(*imageView)
	}
	fb.pass = pass
	fb.extent = info.Area.Extent
	return pass, fb, nil
}

// compatibleKey describes a pass a pipeline rendering to these formats can
// be created against. Compatibility only depends on formats.
func compatibleKey(colors []gpu.Format, depth gpu.Format) (passKey, error) {
	var key passKey
	if len(colors) > maxColorAttachments {
		return key, errors.AssertionFailedf("%d color formats, at most %d supported", len(colors), maxColorAttachments)
	}
	key.numColors = len(colors)
	for i, f := range colors {
		key.colors[i] = attachmentKey{format: f, layout: gpu.ImageLayoutColorAttachmentOptimal, load: gpu.LoadOpClear, store: gpu.StoreOpStore}
	}
	if depth != gpu.FormatUndefined {
		key.hasDepth = true
		key.depth = attachmentKey{format: depth, layout: gpu.ImageLayoutDepthStencilAttachmentOptimal, load: gpu.LoadOpClear, store: gpu.StoreOpStore}
	}
	return key, nil
}

func description(a attachmentKey) core1_0.AttachmentDescription {
	return core1_0.AttachmentDescription{
		Format:         core1_0.Format(a.format),
		Samples:        core1_0.Samples1,
		LoadOp:         core1_0.AttachmentLoadOp(a.load),
		StoreOp:        core1_0.AttachmentStoreOp(a.store),
		StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
		StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
		InitialLayout:  core1_0.ImageLayout(a.layout),
		FinalLayout:    core1_0.ImageLayout(a.layout),
	}
}

func renderPassInfo(key passKey) core1_0.RenderPassCreateInfo {
	subpass := core1_0.SubpassDescription{PipelineBindPoint: core1_0.PipelineBindPointGraphics}
	var attachments []core1_0.AttachmentDescription
	for i := 0; i < key.numColors; i++ {
		attachments = append(attachments, description(key.colors[i]))
		subpass.ColorAttachments = append(subpass.ColorAttachments, core1_0.AttachmentReference{
			Attachment: i,
			Layout:     core1_0.ImageLayout(key.colors[i].layout),
		})
	}

	srcStage := core1_0.PipelineStageColorAttachmentOutput
	dstAccess := core1_0.AccessColorAttachmentWrite
	if key.hasDepth {
		depth := description(key.depth)
		if gpu.HasStencilComponent(key.depth.format) {
			depth.StencilLoadOp = depth.LoadOp
			depth.StencilStoreOp = depth.StoreOp
		}
		attachments = append(attachments, depth)
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: key.numColors,
			Layout:     core1_0.ImageLayout(key.depth.layout),
		}
		srcStage |= core1_0.PipelineStageEarlyFragmentTests
		dstAccess |= core1_0.AccessDepthStencilAttachmentWrite
	}

	return core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  srcStage,
				SrcAccessMask: 0,

				DstStageMask:  srcStage,
				DstAccessMask: dstAccess,
			},
		},
	}
}

func clearValues(info gpu.RenderingInfo) []core1_0.ClearValue {
	values := make([]core1_0.ClearValue, 0, len(info.ColorAttachments)+1)
	for _, a := range info.ColorAttachments {
		values = append(values, core1_0.ClearValueFloat(a.ClearColor))
	}
	if d := info.DepthAttachment; d != nil {
		values = append(values, core1_0.ClearValueDepthStencil{Depth: d.ClearDepth.Depth, Stencil: d.ClearDepth.Stencil})
	}
	return values
}

type passCache struct {
	device       core1_0.Device
	passes       map[passKey]core1_0.RenderPass
	framebuffers map[framebufferKey]core1_0.Framebuffer
}

func newPassCache(device core1_0.Device) *passCache {
	return &passCache{
		device:       device,
		passes:       map[passKey]core1_0.RenderPass{},
		framebuffers: map[framebufferKey]core1_0.Framebuffer{},
	}
}

func (c *passCache) renderPass(key passKey) (core1_0.RenderPass, error) {
	if pass, ok := c.passes[key]; ok {
		return pass, nil
	}
	pass, _, err := c.device.CreateRenderPass(nil, renderPassInfo(key))
	if err != nil {
		return nil, errors.Wrap(err, "create render pass")
	}
	c.passes[key] = pass
	return pass, nil
}

func (c *passCache) framebuffer(key framebufferKey, pass core1_0.RenderPass) (core1_0.Framebuffer, error) {
	if fb, ok := c.framebuffers[key]; ok {
		return fb, nil
	}
	var views []core1_0.ImageView
	for _, v := range key.views {
		if v != nil {
			views = append(views, v.view)
		}
	}
	fb, _, err := c.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass,
		Layers:      1,
		Attachments: views,
		Width:       key.extent.Width,
		Height:      key.extent.Height,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d framebuffer", key.extent.Width, key.extent.Height)
	}
	c.framebuffers[key] = fb
	return fb, nil
}

// forgetView destroys every framebuffer that references v.
func (c *passCache) forgetView(v *imageView) {
	for key, fb := range c.framebuffers {
		if key.uses(v) {
			fb.Destroy(nil)
			delete(c.framebuffers, key)
		}
	}
}

func (c *passCache) destroy() {
	for key, fb := range c.framebuffers {
		fb.Destroy(nil)
		delete(c.framebuffers, key)
	}
	for key, pass := range c.passes {
		pass.Destroy(nil)
		delete(c.passes, key)
	}
}
