package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

func (d *Device) CreateCommandPool(info gpu.CommandPoolInfo) (gpu.CommandPool, error) {
	var flags core1_0.CommandPoolCreateFlags
	if info.ResetBuffers {
		flags |= core1_0.CommandPoolCreateResetBuffer
	}
	if info.Transient {
		flags |= core1_0.CommandPoolCreateTransient
	}
	pool, _, err := d.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: info.QueueFamily,
		Flags:            flags,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create command pool for family %d", info.QueueFamily)
	}
	return &commandPool{pool: pool, dev: d}, nil
}

type commandPool struct {
	pool core1_0.CommandPool
	dev  *Device
}

func (p *commandPool) Allocate(count int) ([]gpu.CommandBuffer, error) {
	buffers, _, err := p.dev.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d command buffers", count)
	}
	out := make([]gpu.CommandBuffer, len(buffers))
	for i, b := range buffers {
		out[i] = &commandBuffer{cmd: b, dev: p.dev}
	}
	return out, nil
}

func (p *commandPool) Free(buffers ...gpu.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	cmds := make([]core1_0.CommandBuffer, len(buffers))
	for i, b := range buffers {
		cmds[i] = b.(*commandBuffer).cmd
	}
	p.dev.device.FreeCommandBuffers(cmds)
}

func (p *commandPool) Destroy() { p.pool.Destroy(nil) }

type commandBuffer struct {
	cmd core1_0.CommandBuffer
	dev *Device
}

func (c *commandBuffer) Begin(oneTimeSubmit bool) error {
	var options core1_0.CommandBufferBeginInfo
	if oneTimeSubmit {
		options.Flags = core1_0.CommandBufferUsageOneTimeSubmit
	}
	_, err := c.cmd.Begin(options)
	return errors.Wrap(err, "begin command buffer")
}

func (c *commandBuffer) End() error {
	_, err := c.cmd.End()
	return errors.Wrap(err, "end command buffer")
}

func (c *commandBuffer) Reset() error {
	_, err := c.cmd.Reset(0)
	return errors.Wrap(err, "reset command buffer")
}

func (c *commandBuffer) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	for _, b := range barriers {
		// Barriers differ in their stages, so each gets its own command.
		_ = c.cmd.CmdPipelineBarrier(core1_0.PipelineStageFlags(b.SrcStage), core1_0.PipelineStageFlags(b.DstStage), 0, nil, nil, []core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayout(b.OldLayout),
				NewLayout:           core1_0.ImageLayout(b.NewLayout),
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               b.Image.(*image).image,
				SubresourceRange:    subresourceRange(b.Aspect),
				SrcAccessMask:       core1_0.AccessFlags(b.SrcAccess),
				DstAccessMask:       core1_0.AccessFlags(b.DstAccess),
			},
		})
	}
}

func (c *commandBuffer) MemoryBarrier(b gpu.MemoryBarrier) {
	_ = c.cmd.CmdPipelineBarrier(core1_0.PipelineStageFlags(b.SrcStage), core1_0.PipelineStageFlags(b.DstStage), 0, []core1_0.MemoryBarrier{
		{
			SrcAccessMask: core1_0.AccessFlags(b.SrcAccess),
			DstAccessMask: core1_0.AccessFlags(b.DstAccess),
		},
	}, nil, nil)
}

func (c *commandBuffer) BeginRendering(info gpu.RenderingInfo) error {
	passKey, fbKey, err := renderingKeys(info)
	if err != nil {
		return err
	}
	pass, err := c.dev.passes.renderPass(passKey)
	if err != nil {
		return err
	}
	fb, err := c.dev.passes.framebuffer(fbKey, pass)
	if err != nil {
		return err
	}
	err = c.cmd.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea:  rect(info.Area),
		ClearValues: clearValues(info),
	})
	return errors.Wrap(err, "begin render pass")
}

func (c *commandBuffer) EndRendering() {
	c.cmd.CmdEndRenderPass()
}

func (c *commandBuffer) BindPipeline(p gpu.Pipeline) {
	vk := p.(*pipeline)
	c.cmd.CmdBindPipeline(core1_0.PipelineBindPoint(vk.bindPoint), vk.pipeline)
}

func (c *commandBuffer) BindDescriptorSets(bindPoint gpu.BindPoint, layout gpu.PipelineLayout, firstSet int, sets ...gpu.DescriptorSet) {
	vkSets := make([]core1_0.DescriptorSet, len(sets))
	for i, s := range sets {
		vkSets[i] = s.(*descriptorSet).set
	}
	c.cmd.CmdBindDescriptorSets(core1_0.PipelineBindPoint(bindPoint), layout.(*pipelineLayout).layout, firstSet, vkSets, nil)
}

func (c *commandBuffer) BindVertexBuffers(firstBinding int, buffers []gpu.Buffer, offsets []int) {
	vkBuffers := make([]core1_0.Buffer, len(buffers))
	for i, b := range buffers {
		vkBuffers[i] = b.(*buffer).buffer
	}
	c.cmd.CmdBindVertexBuffers(firstBinding, vkBuffers, offsets)
}

func (c *commandBuffer) SetViewport(v gpu.Viewport) {
	c.cmd.CmdSetViewport([]core1_0.Viewport{viewport(v)})
}

func (c *commandBuffer) SetScissor(r gpu.Rect2D) {
	c.cmd.CmdSetScissor([]core1_0.Rect2D{rect(r)})
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.cmd.CmdDraw(vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (c *commandBuffer) Dispatch(x, y, z int) {
	c.cmd.CmdDispatch(x, y, z)
}

func (c *commandBuffer) CopyBuffer(src, dst gpu.Buffer, size int) {
	_ = c.cmd.CmdCopyBuffer(src.(*buffer).buffer, dst.(*buffer).buffer, []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	})
}

func (c *commandBuffer) CopyImageToBuffer(src gpu.Image, layout gpu.ImageLayout, dst gpu.Buffer, e gpu.Extent2D, aspect gpu.ImageAspect) {
	_ = c.cmd.CmdCopyImageToBuffer(src.(*image).image, core1_0.ImageLayout(layout), dst.(*buffer).buffer, []core1_0.BufferImageCopy{
		{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectFlags(aspect),
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: e.Width, Height: e.Height, Depth: 1},
		},
	})
}

func (c *commandBuffer) ResetQueryPool(pool gpu.QueryPool, first, count int) {
	c.cmd.CmdResetQueryPool(pool.(*queryPool).pool, first, count)
}

func (c *commandBuffer) WriteTimestamp(stage gpu.PipelineStage, pool gpu.QueryPool, query int) {
	c.cmd.CmdWriteTimestamp(core1_0.PipelineStageFlags(stage), pool.(*queryPool).pool, query)
}
