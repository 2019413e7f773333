package resource

import (
	"io/fs"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

// ShaderStage is a loaded shader module and the stage it runs in.
type ShaderStage struct {
	noCopy noCopy

	module gpu.ShaderModule
	stage  gpu.ShaderStage
	entry  string
}

// LoadShaderStage reads a SPIR-V binary from fsys and creates its module.
func LoadShaderStage(dev gpu.Device, fsys fs.FS, path string, stage gpu.ShaderStage) (*ShaderStage, error) {
	code, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	module, err := dev.CreateShaderModule(code)
	if err != nil {
		return nil, errors.Wrapf(err, "create shader module %s", path)
	}
	return &ShaderStage{module: module, stage: stage, entry: "main"}, nil
}

func (s *ShaderStage) Stage() gpu.ShaderStage { return s.stage }

func (s *ShaderStage) info() gpu.ShaderStageInfo {
	return gpu.ShaderStageInfo{Stage: s.stage, Module: s.module, EntryPoint: s.entry}
}

// Destroy frees the module. Pipelines built from it stay valid.
func (s *ShaderStage) Destroy() {
	if s.module == nil {
		return
	}
	s.module.Destroy()
	s.module = nil
}

type PipelineLayoutBuilder struct {
	SetLayouts []*DescriptorSetLayout
}

func (b PipelineLayoutBuilder) Build(dev gpu.Device) (*PipelineLayout, error) {
	layouts := make([]gpu.DescriptorSetLayout, len(b.SetLayouts))
	for i, l := range b.SetLayouts {
		if l == nil || l.handle == nil {
			return nil, invalid("PipelineLayoutBuilder", "SetLayouts", "set layout %d is missing", i)
		}
		layouts[i] = l.handle
	}
	handle, err := dev.CreatePipelineLayout(gpu.PipelineLayoutInfo{SetLayouts: layouts})
	if err != nil {
		return nil, errors.Wrap(err, "create pipeline layout")
	}
	return &PipelineLayout{handle: handle}, nil
}

type PipelineLayout struct {
	noCopy noCopy

	handle gpu.PipelineLayout
}

func (l *PipelineLayout) Handle() gpu.PipelineLayout { return l.handle }

func (l *PipelineLayout) Destroy() {
	if l.handle == nil {
		return
	}
	l.handle.Destroy()
	l.handle = nil
}

// GraphicsPipelineBuilder describes a pipeline drawn inside a dynamic
// rendering pass, so it names attachment formats instead of a render pass.
type GraphicsPipelineBuilder struct {
	Layout *PipelineLayout
	Stages []*ShaderStage

	VertexBindings   []gpu.VertexBinding
	VertexAttributes []gpu.VertexAttribute
	Topology         gpu.PrimitiveTopology

	// Viewport and Scissor are ignored when they are dynamic states.
	Viewport    gpu.Viewport
	Scissor     gpu.Rect2D
	PolygonMode gpu.PolygonMode
	CullMode    gpu.CullMode
	FrontFace   gpu.FrontFace

	DynamicStates         []gpu.DynamicState
	ColorBlendAttachments []gpu.ColorBlendAttachment

	ColorFormats []gpu.Format
	DepthFormat  gpu.Format

	DepthTest    bool
	DepthWrite   bool
	DepthCompare gpu.CompareOp
}

// DefaultGraphicsPipeline fills a triangle list with back faces culled,
// clockwise front faces, one opaque color attachment and dynamic viewport
// and scissor.
func DefaultGraphicsPipeline() GraphicsPipelineBuilder {
	return GraphicsPipelineBuilder{
		Topology:      gpu.PrimitiveTopologyTriangleList,
		PolygonMode:   gpu.PolygonModeFill,
		CullMode:      gpu.CullModeBack,
		FrontFace:     gpu.FrontFaceClockwise,
		DynamicStates: []gpu.DynamicState{gpu.DynamicStateViewport, gpu.DynamicStateScissor},
		ColorBlendAttachments: []gpu.ColorBlendAttachment{
			{WriteMask: gpu.ColorComponentAll},
		},
		DepthCompare: gpu.CompareOpLessOrEqual,
	}
}

func (b GraphicsPipelineBuilder) Build(dev gpu.Device) (*Pipeline, error) {
	if b.Layout == nil || b.Layout.handle == nil {
		return nil, invalid("GraphicsPipelineBuilder", "Layout", "no pipeline layout")
	}
	var stages []gpu.ShaderStageInfo
	var have gpu.ShaderStage
	for i, s := range b.Stages {
		if s == nil || s.module == nil {
			return nil, invalid("GraphicsPipelineBuilder", "Stages", "stage %d is missing", i)
		}
		have |= s.stage
		stages = append(stages, s.info())
	}
	if have&gpu.ShaderStageVertex == 0 || have&gpu.ShaderStageFragment == 0 {
		return nil, invalid("GraphicsPipelineBuilder", "Stages", "needs a vertex and a fragment stage")
	}
	if len(b.ColorFormats) != len(b.ColorBlendAttachments) {
		return nil, invalid("GraphicsPipelineBuilder", "ColorBlendAttachments",
			"%d blend attachments for %d color formats", len(b.ColorBlendAttachments), len(b.ColorFormats))
	}
	if (b.DepthTest || b.DepthWrite) && b.DepthFormat == gpu.FormatUndefined {
		return nil, invalid("GraphicsPipelineBuilder", "DepthFormat", "depth testing without a depth format")
	}

	handle, err := dev.CreateGraphicsPipeline(gpu.GraphicsPipelineInfo{
		Layout:                b.Layout.handle,
		Stages:                stages,
		VertexBindings:        b.VertexBindings,
		VertexAttributes:      b.VertexAttributes,
		Topology:              b.Topology,
		Viewport:              b.Viewport,
		Scissor:               b.Scissor,
		PolygonMode:           b.PolygonMode,
		CullMode:              b.CullMode,
		FrontFace:             b.FrontFace,
		DynamicStates:         b.DynamicStates,
		ColorBlendAttachments: b.ColorBlendAttachments,
		ColorFormats:          b.ColorFormats,
		DepthFormat:           b.DepthFormat,
		DepthTest:             b.DepthTest,
		DepthWrite:            b.DepthWrite,
		DepthCompare:          b.DepthCompare,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create graphics pipeline")
	}
	return &Pipeline{handle: handle}, nil
}

type ComputePipelineBuilder struct {
	Layout *PipelineLayout
	Stage  *ShaderStage
}

func (b ComputePipelineBuilder) Build(dev gpu.Device) (*Pipeline, error) {
	if b.Layout == nil || b.Layout.handle == nil {
		return nil, invalid("ComputePipelineBuilder", "Layout", "no pipeline layout")
	}
	if b.Stage == nil || b.Stage.module == nil {
		return nil, invalid("ComputePipelineBuilder", "Stage", "no shader stage")
	}
	if b.Stage.stage != gpu.ShaderStageCompute {
		return nil, invalid("ComputePipelineBuilder", "Stage", "stage is not a compute shader")
	}
	handle, err := dev.CreateComputePipeline(gpu.ComputePipelineInfo{Layout: b.Layout.handle, Stage: b.Stage.info()})
	if err != nil {
		return nil, errors.Wrap(err, "create compute pipeline")
	}
	return &Pipeline{handle: handle}, nil
}

type Pipeline struct {
	noCopy noCopy

	handle gpu.Pipeline
}

func (p *Pipeline) Handle() gpu.Pipeline { return p.handle }

func (p *Pipeline) Destroy() {
	if p.handle == nil {
		return
	}
	p.handle.Destroy()
	p.handle = nil
}
