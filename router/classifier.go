package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/model"
)

// ClassifierPrompt is the system instruction for ambiguous input.
const ClassifierPrompt = `You are a file-operation task classifier. Determine if the user's input is a request to perform a file or directory operation (e.g., create, read, write, delete, move, rename, copy, open, edit, save, upload, download, compress, extract). If it is, respond with exactly "true". If the input is casual chat, greeting, or any non-task statement, respond with exactly "false". Do not include any other text, punctuation, or explanation.`

// Reason explains a classification outcome.
type Reason string

const (
	ReasonEmpty        Reason = "empty"
	ReasonGreeting     Reason = "greeting"
	ReasonPattern      Reason = "pattern"
	ReasonNoDomainNoun Reason = "no_domain_noun"
	ReasonModel        Reason = "model"
	ReasonModelError   Reason = "model_error"
)

// Decision is the outcome of Classify.
type Decision struct {
	Task   bool
	Reason Reason
	// Err is set when Reason is ReasonModelError.
	Err error
}

var (
	positivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(create|write|delete|remove|move|rename|copy|open|edit|save|upload|download|compress|extract)\b.*\b(file|folder|directory|document|txt|pdf|doc|xls|ppt|zip)\b`),
		regexp.MustCompile(`(创建|写入|删除|移除|移动|重命名|复制|打开|编辑|保存|上传|下载|压缩|解压|新建|修改).*(文件|文件夹|目录|文档|文本|图片|照片|视频|音乐|压缩包)`),
		regexp.MustCompile(`(删|新建|创建|复制|粘贴|移动|重命名)(文件|文件夹|目录)`),
	}

	// Greetings match by substring of the lower-cased input, so "this" counts
	// as "hi" and routes to chat.
	greetings = []string{
		"你好", "您好", "在吗", "在不在", "嗨",
		"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	}

	domainNouns = []string{
		"文件", "文件夹", "目录", "文档", "文本", "图片", "照片", "视频", "音乐", "压缩包",
		"file", "folder", "directory", "document", "txt", "pdf", "doc", "xls", "ppt", "zip",
		"image", "photo", "video", "music",
	}

	otherDomainKeywords = []string{
		"天气", "股票", "新闻", "音乐", "电影", "闹钟", "计时器", "打电话", "发短信",
		"weather", "stock", "news", "music", "movie", "alarm", "timer", "call", "text",
	}
)

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Logger logging.Logger
	// Prompt overrides ClassifierPrompt.
	Prompt string
}

// Classifier decides whether input denotes a capability-requiring task.
type Classifier struct {
	model  model.Model
	prompt string
	logger logging.Logger
}

// NewClassifier creates a Classifier that consults m for ambiguous input.
func NewClassifier(m model.Model, optFns ...func(o *ClassifierOptions)) *Classifier {
	opts := ClassifierOptions{
		Logger: logging.NoOpLogger{},
		Prompt: ClassifierPrompt,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Classifier{model: m, prompt: opts.Prompt, logger: opts.Logger}
}

// IsTask reports whether input is a task.
func (c *Classifier) IsTask(ctx context.Context, input string) bool {
	return c.Classify(ctx, input).Task
}

// Classify applies, in order: blank check, greetings, positive patterns,
// domain nouns and finally the model.
func (c *Classifier) Classify(ctx context.Context, input string) Decision {
	text := strings.TrimSpace(input)
	if text == "" {
		return c.decide(Decision{Reason: ReasonEmpty})
	}

	lower := strings.ToLower(text)

	if containsAny(lower, greetings) {
		return c.decide(Decision{Reason: ReasonGreeting})
	}

	if matchesPositivePattern(text) {
		return c.decide(Decision{Task: true, Reason: ReasonPattern})
	}

	if !containsAny(lower, domainNouns) {
		if containsAny(lower, otherDomainKeywords) {
			c.logger.Debug("router.classify.other_domain", "input_len", len(text))
		}
		return c.decide(Decision{Reason: ReasonNoDomainNoun})
	}

	return c.decide(c.askModel(ctx, text))
}

func (c *Classifier) decide(d Decision) Decision {
	c.logger.Debug("router.classify.decision", "task", d.Task, "reason", string(d.Reason))
	return d
}

func (c *Classifier) askModel(ctx context.Context, text string) Decision {
	resp, err := model.Collect(ctx, c.model, model.Request{
		Instructions: c.prompt,
		Contents:     []core.Content{core.NewTextContent(core.RoleUser, text)},
	})
	if err != nil {
		cerr := &core.ClassificationError{Err: err}
		c.logger.Warn("router.classify.fallback", "error", cerr)
		return Decision{Reason: ReasonModelError, Err: cerr}
	}

	return Decision{Task: strings.Contains(resp.Content.Text(), "true"), Reason: ReasonModel}
}

func matchesPositivePattern(text string) bool {
	for _, p := range positivePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
