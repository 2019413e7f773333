package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
	"github.com/vkngwrapper/atmosphere/internal/resource"
)

// ClearColor is what the swapchain image is cleared to before drawing.
var ClearColor = [4]float32{0.03, 0.03, 0.03, 1}

// Vertex is one scene vertex. The padding keeps the stride at 16 bytes.
type Vertex struct {
	Position mgl32.Vec3
	_        float32
}

// VertexStride is the byte size of Vertex.
const VertexStride = 16

// SceneVertices is the one triangle the scene consists of.
var SceneVertices = []Vertex{
	{Position: mgl32.Vec3{0, 0.5, 1}},
	{Position: mgl32.Vec3{-0.5, -0.5, 1}},
	{Position: mgl32.Vec3{0.5, -0.5, 1}},
}

// Draw is one pipeline bound and drawn inside the frame's rendering pass.
type Draw struct {
	Pipeline *resource.Pipeline
	Layout   *resource.PipelineLayout
	Set      *resource.DescriptorSet
	// Vertices is nil for a fullscreen triangle generated in the vertex
	// shader.
	Vertices *resource.Buffer
	Stride   int
}

func (d Draw) vertexCount() (int, error) {
	if d.Vertices == nil {
		return 3, nil
	}
	if d.Stride <= 0 {
		return 0, errors.AssertionFailedf("vertex stride %d must be positive", d.Stride)
	}
	return d.Vertices.Size() / d.Stride, nil
}

// Frame is everything one frame's command buffer touches.
type Frame struct {
	Color     *resource.Image
	ColorView *resource.ImageView
	Depth     *resource.Image
	DepthView *resource.ImageView
	Extent    gpu.Extent2D

	// Sky, when set, is drawn before the scene.
	Sky   *Draw
	Scene Draw
}

func (f Frame) renderingInfo() gpu.RenderingInfo {
	return gpu.RenderingInfo{
		Area: gpu.Rect2D{Extent: f.Extent},
		ColorAttachments: []gpu.RenderingAttachment{{
			View:       f.ColorView.Handle(),
			Format:     f.Color.Format(),
			Layout:     f.Color.Layout(),
			LoadOp:     gpu.LoadOpClear,
			StoreOp:    gpu.StoreOpStore,
			ClearColor: ClearColor,
		}},
		DepthAttachment: &gpu.RenderingAttachment{
			View:       f.DepthView.Handle(),
			Format:     f.Depth.Format(),
			Layout:     f.Depth.Layout(),
			LoadOp:     gpu.LoadOpClear,
			StoreOp:    gpu.StoreOpDontCare,
			ClearDepth: gpu.ClearDepthStencil{Depth: 1},
		},
	}
}

// RecordFrame records the barriers and the rendering pass of one frame into
// cmd, which must already be begun.
func RecordFrame(cmd gpu.CommandBuffer, f Frame) error {
	f.Color.Transition(cmd, ColorAttachmentTransition)
	f.Depth.Transition(cmd, DepthAttachmentTransition)

	if err := cmd.BeginRendering(f.renderingInfo()); err != nil {
		return errors.Wrap(err, "begin rendering")
	}
	if f.Sky != nil {
		if err := recordDraw(cmd, *f.Sky, f.Extent); err != nil {
			cmd.EndRendering()
			return errors.Wrap(err, "sky pass")
		}
	}
	if err := recordDraw(cmd, f.Scene, f.Extent); err != nil {
		cmd.EndRendering()
		return errors.Wrap(err, "scene pass")
	}
	cmd.EndRendering()

	f.Color.Transition(cmd, PresentTransition)
	return nil
}

func recordDraw(cmd gpu.CommandBuffer, d Draw, extent gpu.Extent2D) error {
	count, err := d.vertexCount()
	if err != nil {
		return err
	}

	cmd.BindPipeline(d.Pipeline.Handle())
	if d.Set != nil {
		cmd.BindDescriptorSets(gpu.BindPointGraphics, d.Layout.Handle(), 0, d.Set.Handle())
	}
	if d.Vertices != nil {
		cmd.BindVertexBuffers(0, []gpu.Buffer{d.Vertices.Handle()}, []int{0})
	}
	cmd.SetViewport(gpu.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	cmd.SetScissor(gpu.Rect2D{Extent: extent})
	cmd.Draw(count, 1, 0, 0)
	return nil
}
