package gputest

import (
	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type Op string

const (
	OpBarrier            Op = "barrier"
	OpMemoryBarrier      Op = "memory barrier"
	OpBeginRendering     Op = "begin rendering"
	OpEndRendering       Op = "end rendering"
	OpBindPipeline       Op = "bind pipeline"
	OpBindDescriptorSets Op = "bind descriptor sets"
	OpBindVertexBuffers  Op = "bind vertex buffers"
	OpSetViewport        Op = "set viewport"
	OpSetScissor         Op = "set scissor"
	OpDraw               Op = "draw"
	OpDispatch           Op = "dispatch"
	OpCopyBuffer         Op = "copy buffer"
	OpCopyImageToBuffer  Op = "copy image to buffer"
	OpResetQueryPool     Op = "reset query pool"
	OpWriteTimestamp     Op = "write timestamp"
)

// Command is one recorded command. Only the fields relevant to Op are set.
type Command struct {
	Op Op

	Barrier       gpu.ImageBarrier
	MemoryBarrier gpu.MemoryBarrier
	Rendering     gpu.RenderingInfo

	Pipeline  *Pipeline
	BindPoint gpu.BindPoint
	Sets      []gpu.DescriptorSet
	Buffers   []gpu.Buffer
	Offsets   []int

	Viewport gpu.Viewport
	Scissor  gpu.Rect2D

	// Counts holds draw (vertices, instances, first vertex, first
	// instance) or dispatch (x, y, z) arguments.
	Counts [4]int

	Src, Dst gpu.Buffer
	Image    gpu.Image
	Layout   gpu.ImageLayout
	Extent   gpu.Extent2D
	Size     int

	Pool  *QueryPool
	Stage gpu.PipelineStage
	Query int
	Count int
}

type CommandBuffer struct {
	object
	Pool     *CommandPool
	Commands []Command
	// Resets counts explicit resets and implicit ones done by Begin.
	Resets int

	recording bool
	rendering bool
	inFlight  bool
	fence     *Fence
}

// InFlight reports whether the buffer's last submission has not completed.
func (c *CommandBuffer) InFlight() bool {
	return c.inFlight
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	if c.recording {
		return c.b.violate("command buffer #%d begun twice", c.ID)
	}
	if c.inFlight {
		return c.b.violate("command buffer #%d re-recorded while in flight", c.ID)
	}
	if len(c.Commands) > 0 {
		c.Resets++
	}
	c.Commands = nil
	c.recording = true
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return errNotRecording
	}
	if c.rendering {
		return c.b.violate("command buffer #%d ended inside a rendering pass", c.ID)
	}
	c.recording = false
	return nil
}

func (c *CommandBuffer) Reset() error {
	if c.inFlight {
		return c.b.violate("command buffer #%d reset while in flight", c.ID)
	}
	c.Commands = nil
	c.recording = false
	c.rendering = false
	c.Resets++
	return nil
}

func (c *CommandBuffer) record(cmd Command) {
	if !c.recording {
		c.b.violate("%s recorded into command buffer #%d outside Begin/End", cmd.Op, c.ID)
	}
	c.Commands = append(c.Commands, cmd)
}

func (c *CommandBuffer) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	if c.rendering {
		c.b.violate("image barrier inside a rendering pass in command buffer #%d", c.ID)
	}
	for _, barrier := range barriers {
		c.record(Command{Op: OpBarrier, Barrier: barrier})
	}
}

func (c *CommandBuffer) MemoryBarrier(barrier gpu.MemoryBarrier) {
	c.record(Command{Op: OpMemoryBarrier, MemoryBarrier: barrier})
}

func (c *CommandBuffer) BeginRendering(info gpu.RenderingInfo) error {
	if c.rendering {
		return c.b.violate("rendering pass begun twice in command buffer #%d", c.ID)
	}
	c.rendering = true
	c.record(Command{Op: OpBeginRendering, Rendering: info})
	return nil
}

func (c *CommandBuffer) EndRendering() {
	if !c.rendering {
		c.b.violate("rendering pass ended without begin in command buffer #%d", c.ID)
	}
	c.rendering = false
	c.record(Command{Op: OpEndRendering})
}

func (c *CommandBuffer) BindPipeline(pipeline gpu.Pipeline) {
	p := pipeline.(*Pipeline)
	c.record(Command{Op: OpBindPipeline, Pipeline: p, BindPoint: p.BindPoint()})
}

func (c *CommandBuffer) BindDescriptorSets(bindPoint gpu.BindPoint, layout gpu.PipelineLayout, firstSet int, sets ...gpu.DescriptorSet) {
	c.record(Command{Op: OpBindDescriptorSets, BindPoint: bindPoint, Sets: sets, Counts: [4]int{firstSet}})
}

func (c *CommandBuffer) BindVertexBuffers(firstBinding int, buffers []gpu.Buffer, offsets []int) {
	c.record(Command{Op: OpBindVertexBuffers, Buffers: buffers, Offsets: offsets, Counts: [4]int{firstBinding}})
}

func (c *CommandBuffer) SetViewport(viewport gpu.Viewport) {
	c.record(Command{Op: OpSetViewport, Viewport: viewport})
}

func (c *CommandBuffer) SetScissor(scissor gpu.Rect2D) {
	c.record(Command{Op: OpSetScissor, Scissor: scissor})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	if !c.rendering {
		c.b.violate("draw outside a rendering pass in command buffer #%d", c.ID)
	}
	c.record(Command{Op: OpDraw, Counts: [4]int{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (c *CommandBuffer) Dispatch(x, y, z int) {
	if c.rendering {
		c.b.violate("dispatch inside a rendering pass in command buffer #%d", c.ID)
	}
	c.record(Command{Op: OpDispatch, Counts: [4]int{x, y, z}})
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size int) {
	c.record(Command{Op: OpCopyBuffer, Src: src, Dst: dst, Size: size})
}

func (c *CommandBuffer) CopyImageToBuffer(src gpu.Image, layout gpu.ImageLayout, dst gpu.Buffer, extent gpu.Extent2D, aspect gpu.ImageAspect) {
	c.record(Command{Op: OpCopyImageToBuffer, Image: src, Layout: layout, Dst: dst, Extent: extent})
}

func (c *CommandBuffer) ResetQueryPool(pool gpu.QueryPool, first, count int) {
	p := pool.(*QueryPool)
	c.record(Command{Op: OpResetQueryPool, Pool: p, Query: first, Count: count})
	for i := first; i < first+count; i++ {
		delete(p.Ticks, i)
	}
}

// WriteTimestamp stores the next tick of the backend's counter into the
// query right away, so results are available before submission.
func (c *CommandBuffer) WriteTimestamp(stage gpu.PipelineStage, pool gpu.QueryPool, query int) {
	p := pool.(*QueryPool)
	if query < 0 || query >= p.Count {
		c.b.violate("timestamp %d outside query pool #%d of %d", query, p.ID, p.Count)
		return
	}
	c.record(Command{Op: OpWriteTimestamp, Pool: p, Stage: stage, Query: query})
	p.Ticks[query] = c.b.nextTick()
}

// execute applies the data movement of the recorded commands.
func (c *CommandBuffer) execute() {
	for _, cmd := range c.Commands {
		switch cmd.Op {
		case OpCopyBuffer:
			copy(cmd.Dst.(*Buffer).Data[:cmd.Size], cmd.Src.(*Buffer).Data[:cmd.Size])
		case OpCopyImageToBuffer:
			if img := cmd.Image.(*Image); img.Pixels != nil {
				copy(cmd.Dst.(*Buffer).Data, img.Pixels)
			}
		}
	}
}

func (c *CommandBuffer) references(view *ImageView) bool {
	for _, cmd := range c.Commands {
		if cmd.Op != OpBeginRendering {
			continue
		}
		for _, a := range cmd.Rendering.ColorAttachments {
			if a.View == gpu.ImageView(view) {
				return true
			}
		}
		if d := cmd.Rendering.DepthAttachment; d != nil && d.View == gpu.ImageView(view) {
			return true
		}
	}
	return false
}

// Ops lists the command kinds in order.
func Ops(commands []Command) []Op {
	ops := make([]Op, len(commands))
	for i, cmd := range commands {
		ops[i] = cmd.Op
	}
	return ops
}

// Find returns every recorded command of kind op.
func Find(commands []Command, op Op) []Command {
	var out []Command
	for _, cmd := range commands {
		if cmd.Op == op {
			out = append(out, cmd)
		}
	}
	return out
}
