package fal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"echoes/internal/queue"
)

// DefaultQueueBaseURL is the Fal queue API root.
const DefaultQueueBaseURL = "https://queue.fal.run"

// Options configures the Fal descriptor table.
type Options struct {
	QueueBaseURL string
	// Storage uploads inline data URIs for models that need hosted files.
	// A default uploader is used when nil.
	Storage *Storage
}

type model struct {
	kind     string
	title    string
	path     string
	schema   schema
	artifact func(body []byte) (queue.Artifact, error)
	interval time.Duration
	attempts int
	// uploads lists wire fields whose data URIs are moved to Fal storage
	// before submission.
	uploads []string
}

var (
	imageURL = field{name: "image_url", aliases: []string{"imageUrl", "imageDataUri"}, kind: textField, required: true}
	prompt   = field{name: "prompt", kind: textField, required: true}
)

func models() []model {
	optionalPrompt := prompt
	optionalPrompt.required = false

	return []model{
		{
			kind:  "image-to-video",
			title: "Image to Video (Kling 2.1 Standard)",
			path:  "fal-ai/kling-video/v2.1/standard/image-to-video",
			schema: schema{
				imageURL,
				prompt,
				{name: "duration", kind: textField, def: "5", enum: []string{"5", "10"}},
				{name: "cfg_scale", aliases: []string{"cfgScale"}, kind: numberField, def: 0.5, min: bound(0), max: bound(1)},
				{name: "negative_prompt", aliases: []string{"negativePrompt"}, kind: textField, def: "blur, distort, and low quality"},
			},
			artifact: videoArtifact,
		},
		{
			kind:     "image-to-video-master",
			title:    "Image to Video (Kling 2.1 Master)",
			path:     "fal-ai/kling-video/v2.1/master/image-to-video",
			schema:   schema{imageURL, optionalPrompt},
			artifact: videoArtifact,
		},
		{
			kind:     "image-to-video-pixverse",
			title:    "Image to Video (Pixverse 4.5)",
			path:     "fal-ai/pixverse/v4.5/image-to-video",
			schema:   schema{imageURL, prompt},
			artifact: videoArtifact,
		},
		{
			kind:     "image-to-video-minimax",
			title:    "Image to Video (MiniMax)",
			path:     "fal-ai/minimax-video/image-to-video",
			schema:   schema{imageURL, prompt},
			artifact: videoArtifact,
		},
		{
			kind:     "text-to-video",
			title:    "Text to Video (Kling)",
			path:     "fal-ai/kling",
			schema:   schema{prompt},
			artifact: videoArtifact,
		},
		{
			kind:     "text-to-video-veo3",
			title:    "Text to Video (Veo 3)",
			path:     "fal-ai/veo3",
			schema:   schema{prompt},
			artifact: videoArtifact,
		},
		{
			kind:  "image-to-3d",
			title: "Image to 3D (Tripo 2.5)",
			path:  "tripo3d/tripo/v2.5/image-to-3d",
			schema: schema{
				imageURL,
				{name: "face_limit", aliases: []string{"faceLimit"}, kind: integerField, min: bound(1)},
				{name: "style", kind: textField},
				{name: "pbr", kind: boolField},
				{name: "texture", kind: textField},
				{name: "texture_alignment", aliases: []string{"textureAlignment"}, kind: textField},
				{name: "auto_size", aliases: []string{"autoSize"}, kind: boolField},
				{name: "seed", kind: integerField},
				{name: "quad", kind: boolField},
				{name: "orientation", kind: textField},
				{name: "texture_seed", aliases: []string{"textureSeed"}, kind: integerField},
			},
			artifact: modelArtifact,
		},
		{
			kind:  "avatar-animation",
			title: "Avatar Animation",
			path:  "fal-ai/ai-avatar",
			schema: schema{
				imageURL,
				{name: "audio_url", aliases: []string{"audioUrl", "audioDataUri"}, kind: textField, required: true},
				prompt,
				{name: "num_frames", aliases: []string{"numFrames"}, kind: integerField, min: bound(1)},
				{name: "seed", kind: integerField},
				{name: "turbo", kind: boolField},
			},
			artifact: videoArtifact,
		},
		{
			kind:  "avatar-animation-multi",
			title: "Avatar Animation (Two Speakers)",
			path:  "fal-ai/ai-avatar/multi",
			schema: schema{
				prompt,
				imageURL,
				{name: "first_audio_url", aliases: []string{"firstAudioUrl", "firstAudioDataUri"}, kind: textField, required: true},
				{name: "second_audio_url", aliases: []string{"secondAudioUrl", "secondAudioDataUri"}, kind: textField},
				{name: "num_frames", aliases: []string{"numFrames"}, kind: integerField, def: int64(181), min: bound(1)},
				{name: "seed", kind: integerField, def: int64(81)},
				{name: "turbo", kind: boolField, def: true},
			},
			artifact: videoArtifact,
			interval: 2 * time.Second,
			attempts: 150,
			uploads:  []string{"image_url", "first_audio_url", "second_audio_url"},
		},
		{
			kind:  "audio-to-video",
			title: "Audio to Video (VEED Avatars)",
			path:  "veed/avatars/audio-to-video",
			schema: schema{
				{name: "avatar_id", aliases: []string{"avatarId"}, kind: textField, required: true},
				{name: "audio_url", aliases: []string{"audioUrl"}, kind: textField, required: true},
			},
			artifact: videoArtifact,
		},
		{
			kind:  "avatar-to-video",
			title: "Avatar to Video (Stable Video Diffusion)",
			path:  "fal-ai/stable-video-diffusion",
			schema: schema{
				{name: "image_url", aliases: []string{"imageUrl", "avatarDataUri"}, kind: textField, required: true},
				{name: "motion_bucket_id", aliases: []string{"motionBucketId"}, kind: integerField, def: int64(127), min: bound(1), max: bound(255)},
				{name: "cond_aug", aliases: []string{"condAug"}, kind: numberField, def: 0.02, min: bound(0)},
			},
			artifact: videoArtifact,
		},
	}
}

// Descriptors returns the queue descriptor of every supported Fal model.
func Descriptors(opts Options) []queue.Descriptor {
	base := strings.TrimRight(strings.TrimSpace(opts.QueueBaseURL), "/")
	if base == "" {
		base = DefaultQueueBaseURL
	}
	storage := opts.Storage
	if storage == nil {
		storage = NewStorage(StorageOptions{})
	}

	ms := models()
	out := make([]queue.Descriptor, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.descriptor(base, storage))
	}
	return out
}

// Register adds every Fal descriptor to r.
func Register(r *queue.Registry, opts Options) error {
	for _, d := range Descriptors(opts) {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (m model) descriptor(base string, storage *Storage) queue.Descriptor {
	endpoint := base + "/" + m.path
	s := m.schema
	d := queue.Descriptor{
		Kind:      m.kind,
		Title:     m.title,
		SubmitURL: endpoint,
		StatusURL: func(id string) string {
			return endpoint + "/requests/" + id + "/status"
		},
		ResultURL: func(id string) string {
			return endpoint + "/requests/" + id
		},
		BuildPayload: func(req queue.Request) (map[string]any, error) {
			return s.build(req.Input)
		},
		ExtractArtifact: m.artifact,
		PollInterval:    m.interval,
		MaxAttempts:     m.attempts,
		GraceAttempts:   queue.DefaultGraceAttempts,
	}
	if len(m.uploads) > 0 {
		d.Prepare = uploadInline(s, storage, m.uploads)
	}
	return d
}

// uploadInline replaces data URIs in the given fields with hosted Fal URLs.
func uploadInline(s schema, storage *Storage, fields []string) func(context.Context, queue.Request) (queue.Request, error) {
	return func(ctx context.Context, req queue.Request) (queue.Request, error) {
		input, err := s.canonical(req.Input)
		if err != nil {
			return req, err
		}
		for _, name := range fields {
			v, ok := input[name].(string)
			if !ok || !IsDataURI(v) {
				continue
			}
			hosted, err := storage.Upload(ctx, req.APIKey, v)
			if err != nil {
				return req, err
			}
			input[name] = hosted
		}
		return queue.Request{APIKey: req.APIKey, Input: input}, nil
	}
}

type fileRef struct {
	URL string `json:"url"`
}

func (f *fileRef) value() string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f.URL)
}

func videoArtifact(body []byte) (queue.Artifact, error) {
	var decoded struct {
		Video *fileRef `json:"video"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return queue.Artifact{}, queue.MalformedResult("result is not a JSON object")
	}
	u := decoded.Video.value()
	if u == "" {
		return queue.Artifact{}, queue.MalformedResult("video.url is missing")
	}
	return queue.Artifact{VideoURL: u}, nil
}

func modelArtifact(body []byte) (queue.Artifact, error) {
	var decoded struct {
		ModelMesh     *fileRef `json:"model_mesh"`
		RenderedImage *fileRef `json:"rendered_image"`
		PBRModel      *fileRef `json:"pbr_model"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return queue.Artifact{}, queue.MalformedResult("result is not a JSON object")
	}
	mesh := decoded.ModelMesh.value()
	if mesh == "" {
		return queue.Artifact{}, queue.MalformedResult("model_mesh.url is missing")
	}
	return queue.Artifact{
		ModelMeshURL:     mesh,
		RenderedImageURL: decoded.RenderedImage.value(),
		PBRModelURL:      decoded.PBRModel.value(),
	}, nil
}
