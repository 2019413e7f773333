package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

func (d *Device) CreateImageView(info gpu.ImageViewInfo) (gpu.ImageView, error) {
	view, _, err := d.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		ViewType: core1_0.ImageViewType2D,
		Image:    info.Image.(*image).image,
		Format:   core1_0.Format(info.Format),
		Components: core1_0.ComponentMapping{
			R: core1_0.ComponentSwizzleIdentity,
			G: core1_0.ComponentSwizzleIdentity,
			B: core1_0.ComponentSwizzleIdentity,
			A: core1_0.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(info.Aspect),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %s image view", info.Format)
	}
	return &imageView{view: view, dev: d}, nil
}

type imageView struct {
	view core1_0.ImageView
	dev  *Device
}

func (v *imageView) Destroy() {
	v.dev.passes.forgetView(v)
	v.view.Destroy(nil)
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	address := core1_0.SamplerAddressMode(info.AddressMode)
	s, _, err := d.device.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.Filter(info.MagFilter),
		MinFilter:    core1_0.Filter(info.MinFilter),
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,
		MipmapMode:  core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create sampler")
	}
	return &sampler{sampler: s}, nil
}

type sampler struct {
	sampler core1_0.Sampler
}

func (s *sampler) Destroy() { s.sampler.Destroy(nil) }

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader bytecode of %d bytes is not a whole number of words", len(code))
	}
	module, _, err := d.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create shader module")
	}
	return &shaderModule{module: module}, nil
}

type shaderModule struct {
	module core1_0.ShaderModule
}

func (m *shaderModule) Destroy() { m.module.Destroy(nil) }

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	var info core1_0.DescriptorSetLayoutCreateInfo
	for _, b := range bindings {
		info.Bindings = append(info.Bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  core1_0.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      core1_0.ShaderStageFlags(b.Stages),
		})
	}
	layout, _, err := d.device.CreateDescriptorSetLayout(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}
	return &descriptorSetLayout{layout: layout}, nil
}

type descriptorSetLayout struct {
	layout core1_0.DescriptorSetLayout
}

func (l *descriptorSetLayout) Destroy() { l.layout.Destroy(nil) }

func (d *Device) CreateDescriptorPool(info gpu.DescriptorPoolInfo) (gpu.DescriptorPool, error) {
	options := core1_0.DescriptorPoolCreateInfo{MaxSets: info.MaxSets}
	for _, size := range info.PoolSizes {
		options.PoolSizes = append(options.PoolSizes, core1_0.DescriptorPoolSize{
			Type:            core1_0.DescriptorType(size.Type),
			DescriptorCount: size.Count,
		})
	}
	pool, _, err := d.device.CreateDescriptorPool(nil, options)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor pool")
	}
	return &descriptorPool{pool: pool, dev: d}, nil
}

type descriptorPool struct {
	pool core1_0.DescriptorPool
	dev  *Device
}

func (p *descriptorPool) Allocate(layouts ...gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	setLayouts := make([]core1_0.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		setLayouts[i] = l.(*descriptorSetLayout).layout
	}
	sets, _, err := p.dev.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     setLayouts,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d descriptor sets", len(layouts))
	}
	out := make([]gpu.DescriptorSet, len(sets))
	for i, s := range sets {
		out[i] = &descriptorSet{set: s, dev: p.dev}
	}
	return out, nil
}

func (p *descriptorPool) Destroy() { p.pool.Destroy(nil) }

type descriptorSet struct {
	set core1_0.DescriptorSet
	dev *Device
}

func (s *descriptorSet) Update(writes ...gpu.DescriptorWrite) error {
	out := make([]core1_0.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		out[i] = core1_0.WriteDescriptorSet{
			DstSet:          s.set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorType(w.Type),
		}
		switch {
		case w.Buffer != nil:
			size := w.Range
			if size == 0 {
				size = w.Buffer.Size() - w.Offset
			}
			out[i].BufferInfo = []core1_0.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*buffer).buffer,
				Offset: w.Offset,
				Range:  size,
			}}
		case w.ImageView != nil:
			info := core1_0.DescriptorImageInfo{
				ImageView:   w.ImageView.(*imageView).view,
				ImageLayout: core1_0.ImageLayout(w.ImageLayout),
			}
			if w.Sampler != nil {
				info.Sampler = w.Sampler.(*sampler).sampler
			}
			out[i].ImageInfo = []core1_0.DescriptorImageInfo{info}
		default:
			return errors.AssertionFailedf("descriptor write to binding %d has neither buffer nor image", w.Binding)
		}
	}
	return errors.Wrap(s.dev.device.UpdateDescriptorSets(out, nil), "update descriptor set")
}

func (d *Device) CreatePipelineLayout(info gpu.PipelineLayoutInfo) (gpu.PipelineLayout, error) {
	setLayouts := make([]core1_0.DescriptorSetLayout, len(info.SetLayouts))
	for i, l := range info.SetLayouts {
		setLayouts[i] = l.(*descriptorSetLayout).layout
	}
	layout, _, err := d.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: setLayouts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create pipeline layout")
	}
	return &pipelineLayout{layout: layout}, nil
}

type pipelineLayout struct {
	layout core1_0.PipelineLayout
}

func (l *pipelineLayout) Destroy() { l.layout.Destroy(nil) }

func (d *Device) CreateGraphicsPipeline(info gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	key, err := compatibleKey(info.ColorFormats, info.DepthFormat)
	if err != nil {
		return nil, err
	}
	pass, err := d.passes.renderPass(key)
	if err != nil {
		return nil, err
	}

	stages := make([]core1_0.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		stages[i] = shaderStage(s)
	}

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{}
	for _, b := range info.VertexBindings {
		vertexInput.VertexBindingDescriptions = append(vertexInput.VertexBindingDescriptions, core1_0.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: core1_0.VertexInputRateVertex,
		})
	}
	for _, a := range info.VertexAttributes {
		vertexInput.VertexAttributeDescriptions = append(vertexInput.VertexAttributeDescriptions, core1_0.VertexInputAttributeDescription{
			Binding:  a.Binding,
			Location: uint32(a.Location),
			Format:   core1_0.Format(a.Format),
			Offset:   a.Offset,
		})
	}

	var dynamic *core1_0.PipelineDynamicStateCreateInfo
	if len(info.DynamicStates) > 0 {
		dynamic = &core1_0.PipelineDynamicStateCreateInfo{}
		for _, s := range info.DynamicStates {
			dynamic.DynamicStates = append(dynamic.DynamicStates, core1_0.DynamicState(s))
		}
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,
	}
	for _, a := range info.ColorBlendAttachments {
		colorBlend.Attachments = append(colorBlend.Attachments, core1_0.PipelineColorBlendAttachmentState{
			BlendEnabled:        a.BlendEnable,
			SrcColorBlendFactor: core1_0.BlendFactorSrcAlpha,
			DstColorBlendFactor: core1_0.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        core1_0.BlendOpAdd,
			SrcAlphaBlendFactor: core1_0.BlendFactorOne,
			DstAlphaBlendFactor: core1_0.BlendFactorZero,
			AlphaBlendOp:        core1_0.BlendOpAdd,
			ColorWriteMask:      core1_0.ColorComponentFlags(a.WriteMask),
		})
	}

	var depthStencil *core1_0.PipelineDepthStencilStateCreateInfo
	if info.DepthFormat != gpu.FormatUndefined {
		depthStencil = &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  info.DepthTest,
			DepthWriteEnable: info.DepthWrite,
			DepthCompareOp:   core1_0.CompareOp(info.DepthCompare),
		}
	}

	pipelines, _, err := d.device.CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages:           stages,
			VertexInputState: vertexInput,
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology:               core1_0.PrimitiveTopology(info.Topology),
				PrimitiveRestartEnable: false,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{viewport(info.Viewport)},
				Scissors:  []core1_0.Rect2D{rect(info.Scissor)},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonMode(info.PolygonMode),
				CullMode:    core1_0.CullModeFlags(info.CullMode),
				FrontFace:   core1_0.FrontFace(info.FrontFace),
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				SampleShadingEnable:  false,
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			DepthStencilState: depthStencil,
			ColorBlendState:   colorBlend,
			DynamicState:      dynamic,
			Layout:            info.Layout.(*pipelineLayout).layout,
			RenderPass:        pass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create graphics pipeline")
	}
	return &pipeline{pipeline: pipelines[0], bindPoint: gpu.BindPointGraphics}, nil
}

func (d *Device) CreateComputePipeline(info gpu.ComputePipelineInfo) (gpu.Pipeline, error) {
	pipelines, _, err := d.device.CreateComputePipelines(nil, nil, []core1_0.ComputePipelineCreateInfo{
		{
			Stage:             shaderStage(info.Stage),
			Layout:            info.Layout.(*pipelineLayout).layout,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create compute pipeline")
	}
	return &pipeline{pipeline: pipelines[0], bindPoint: gpu.BindPointCompute}, nil
}

type pipeline struct {
	pipeline  core1_0.Pipeline
	bindPoint gpu.BindPoint
}

func (p *pipeline) BindPoint() gpu.BindPoint { return p.bindPoint }
func (p *pipeline) Destroy() { p.pipeline.Destroy(nil) }
