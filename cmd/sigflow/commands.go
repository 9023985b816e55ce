package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/extract"
	"github.com/BaSui01/sigflow/internal/tzdb"
	"github.com/BaSui01/sigflow/prompt"
	"github.com/BaSui01/sigflow/signature"
)

// =============================================================================
// 🧾 parse 命令
// =============================================================================

// fieldSchema 字段的 YAML 结构
type fieldSchema struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Type        string   `yaml:"type"`
	Array       bool     `yaml:"array,omitempty"`
	Optional    bool     `yaml:"optional,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Options     []string `yaml:"options,omitempty"`
}

// signatureSchema 签名的 YAML 结构
type signatureSchema struct {
	Description string        `yaml:"description,omitempty"`
	Inputs      []fieldSchema `yaml:"inputs"`
	Outputs     []fieldSchema `yaml:"outputs"`
	DSL         string        `yaml:"dsl"`
}

func schemaOf(sig *signature.Signature) signatureSchema {
	convert := func(fields []signature.Field) []fieldSchema {
		out := make([]fieldSchema, len(fields))
		for i, f := range fields {
			out[i] = fieldSchema{
				Name:        f.Name(),
				Title:       f.Title(),
				Type:        f.Type().String(),
				Array:       f.IsArray(),
				Optional:    f.IsOptional(),
				Description: f.Description(),
				Options:     f.ClassOptions(),
			}
		}
		return out
	}
	return signatureSchema{
		Description: sig.Description(),
		Inputs:      convert(sig.Inputs()),
		Outputs:     convert(sig.Outputs()),
		DSL:         sig.String(),
	}
}

func runParse(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dsl := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(dsl) == "" {
		return &exitError{code: 2, msg: "parse: missing signature"}
	}

	sig, err := signature.Parse(dsl)
	if err != nil {
		return err
	}
	return writeYAML(stdout, schemaOf(sig))
}

// =============================================================================
// 🖨️ render 命令
// =============================================================================

// feedbackFlags 可重复的 --feedback 参数
type feedbackFlags []string

func (f *feedbackFlags) String() string { return strings.Join(*f, "; ") }

func (f *feedbackFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func runRender(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dsl := fs.String("dsl", "", "Signature DSL")
	inputsPath := fs.String("inputs", "", "Path to input values (YAML)")
	configPath := fs.String("config", "", "Path to config file")
	var feedback feedbackFlags
	fs.Var(&feedback, "feedback", "Feedback line to include (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsl == "" {
		return &exitError{code: 2, msg: "render: --dsl is required"}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	sig, err := signature.Parse(*dsl)
	if err != nil {
		return err
	}
	if cfg.Engine.ChainOfThought {
		if sig, err = withReasoning(sig); err != nil {
			return err
		}
	}

	inputs := signature.Values{}
	if *inputsPath != "" {
		if inputs, err = loadInputs(*inputsPath, sig); err != nil {
			return err
		}
	}
	if err := signature.ValidateInputs(sig, inputs); err != nil {
		return err
	}

	renderer := prompt.Renderer{}
	if cfg.Engine.DisplayZone != "" {
		loc, err := tzdb.Default().Resolve(cfg.Engine.DisplayZone)
		if err != nil {
			return fmt.Errorf("engine.display_zone: %w", err)
		}
		renderer.DisplayZone = loc
	}

	req, err := renderer.Render(sig, inputs, feedback)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "=== system ===")
	fmt.Fprintln(stdout, req.System)
	fmt.Fprintln(stdout, "=== user ===")
	fmt.Fprintln(stdout, req.User)
	return nil
}

// withReasoning 与生成引擎一致，在输出最前面插入可选的推理字段
func withReasoning(sig *signature.Signature) (*signature.Signature, error) {
	field := signature.NewField(prompt.ReasoningField, signature.TypeString, signature.AsOptional())
	return sig.WithOutputPrefix(field)
}

// =============================================================================
// ✂️ extract 命令
// =============================================================================

// extractReport extract 命令的输出
type extractReport struct {
	Values map[string]any `yaml:"values"`
	Errors []string       `yaml:"errors,omitempty"`
}

func runExtract(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dsl := fs.String("dsl", "", "Signature DSL")
	responsePath := fs.String("response", "", "Path to the model response ('-' for stdin)")
	chunk := fs.Int("stream-chunk", 0, "Feed the response in chunks of n bytes")
	classMatch := fs.String("class-match", "fold", "Class label matching: strict or fold")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsl == "" || *responsePath == "" {
		return &exitError{code: 2, msg: "extract: --dsl and --response are required"}
	}

	sig, err := signature.Parse(*dsl)
	if err != nil {
		return err
	}
	match, err := signature.ParseClassMatch(*classMatch)
	if err != nil {
		return err
	}
	text, err := readResponse(*responsePath)
	if err != nil {
		return err
	}

	ex := extract.New(sig.Outputs())
	for _, part := range chunkText(text, *chunk) {
		ex.Write(part)
	}
	ex.Finish()

	report := extractReport{Values: map[string]any{}}
	opts := signature.CoerceOptions{ClassMatch: match, Zones: tzdb.Default()}
	for _, st := range ex.Snapshot().Fields {
		f := st.Field
		if strings.TrimSpace(st.Raw) == "" {
			if f.IsOptional() {
				report.Values[f.Name()] = nil
				continue
			}
			report.Errors = append(report.Errors, signature.NewMissingFieldError(f).Feedback())
			continue
		}
		v, verr := signature.Coerce(f, st.Raw, opts)
		if verr != nil {
			report.Errors = append(report.Errors, verr.Feedback())
			continue
		}
		report.Values[f.Name()] = v.Interface()
	}

	if err := writeYAML(stdout, report); err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func readResponse(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

// chunkText 按字节切分文本，size <= 0 时整段返回
func chunkText(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	parts := make([]string, 0, len(text)/size+1)
	for len(text) > size {
		parts = append(parts, text[:size])
		text = text[size:]
	}
	return append(parts, text)
}

// =============================================================================
// 🔧 公共工具
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadInputs 读取 YAML 输入。日期与日期时间字段接受规范文本形式
func loadInputs(path string, sig *signature.Signature) (signature.Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse inputs %s: %w", path, err)
	}
	for name, x := range raw {
		f, ok := sig.Input(name)
		if !ok {
			continue
		}
		converted, err := parseTimes(f, x)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		raw[name] = converted
	}
	return signature.ValuesFrom(sig, raw)
}

func parseTimes(f signature.Field, x any) (any, error) {
	if f.Type() != signature.TypeDate && f.Type() != signature.TypeDateTime {
		return x, nil
	}
	items, ok := x.([]any)
	if !ok {
		return parseTime(f, x)
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := parseTime(f, item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseTime(f signature.Field, x any) (any, error) {
	s, ok := x.(string)
	if !ok {
		return x, nil
	}
	if f.Type() == signature.TypeDate {
		t, err := signature.ParseDate(s)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := signature.ParseDateTime(s, tzdb.Default())
	if err != nil {
		return nil, err
	}
	return t, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
