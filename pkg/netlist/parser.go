// Package netlist reads SPICE-style netlists into a finalized circuit.
//
// Supported cards:
//
//	Rname n+ n- value
//	Cname n+ n- value [IC=v]
//	Lname n+ n- value [IC=i]
//	Kname L1 L2 k
//	Vname n+ n- [DC] value | PULSE(v1 v2 td tr tf pw per) | PWL(t1 v1 ...) | SIN(vo va freq [phase])
//	Bname n+ n- I=expr | V=expr
//	.param name=value ...
//	.ic V(node)=v I(elem)=i ...
//	.tran tstep tstop [tstart [tmax]] [uic]
//	.options key=value ...
//	.end
//
// The first line is the title. Lines starting with * are comments, ; starts
// an inline comment and + continues the previous line.
package netlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/circuit"
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/simerr"
	"github.com/snietofennis/BEP-code/pkg/util"
)

type TranParams struct {
	TStep  float64 // Initial step
	TStop  float64 // Stop time
	TStart float64 // Start time, where initial conditions hold
	TMax   float64 // Max step
	UIC    bool    // Use initial conditions
}

// Netlist is a parsed netlist.
type Netlist struct {
	Title             string
	Circuit           *circuit.Circuit
	Params            map[string]float64
	InitialConditions map[string]float64
	Options           map[string]string
	Tran              TranParams
	HasTran           bool
}

type Option func(*parseOptions)

type parseOptions struct {
	name      string
	overrides map[string]float64
}

// WithParams replaces .param values of the same name, and defines new ones.
func WithParams(params map[string]float64) Option {
	return func(o *parseOptions) {
		for k, v := range params {
			o.overrides[k] = v
		}
	}
}

// WithName names the circuit. The default is the title line.
func WithName(name string) Option {
	return func(o *parseOptions) { o.name = name }
}

type line struct {
	num  int
	text string
}

func ParseFile(path string, opts ...Option) (*Netlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseReader(f, opts...)
}

func Parse(input string, opts ...Option) (*Netlist, error) {
	return ParseReader(strings.NewReader(input), opts...)
}

func ParseReader(r io.Reader, opts ...Option) (*Netlist, error) {
	o := parseOptions{overrides: make(map[string]float64)}
	for _, opt := range opts {
		opt(&o)
	}

	title, lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	nl := &Netlist{
		Title:             title,
		Params:            make(map[string]float64),
		InitialConditions: make(map[string]float64),
		Options:           make(map[string]string),
	}

	// Parameters are global, so they are read before any element uses them.
	for _, l := range lines {
		if isDirective(l.text, ".param") {
			if err := nl.parseParam(l.text); err != nil {
				return nil, fmt.Errorf("line %d: %w", l.num, err)
			}
		}
	}
	for k, v := range o.overrides {
		nl.Params[k] = v
	}

	name := o.name
	if name == "" {
		name = title
	}
	b := circuit.New(name, circuit.WithParams(nl.Params))

	for _, l := range lines {
		var err error
		if strings.HasPrefix(l.text, ".") {
			err = nl.parseDotOperator(l.text)
		} else {
			err = nl.parseElement(b, l.text)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", l.num, err)
		}
	}

	nl.Circuit, err = b.Finalize()
	if err != nil {
		return nil, err
	}
	return nl, nil
}

var spaces = regexp.MustCompile(`\s+`)

// readLines returns the title and the logical lines up to .end.
func readLines(r io.Reader) (string, []line, error) {
	scanner := bufio.NewScanner(r)
	var title string
	if scanner.Scan() {
		title = strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "*"))
	}

	var lines []line
	var current line
	flush := func() {
		if current.text != "" {
			current.text = spaces.ReplaceAllString(current.text, " ")
			lines = append(lines, current)
		}
		current = line{}
	}

	num := 1
	for scanner.Scan() {
		num++
		text := scanner.Text()
		if idx := strings.Index(text, ";"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)

		switch {
		case text == "", strings.HasPrefix(text, "*"):
			continue
		case strings.HasPrefix(text, "+"):
			if current.text == "" {
				return "", nil, fmt.Errorf("line %d: continuation without a card", num)
			}
			current.text += " " + strings.TrimSpace(text[1:])
			continue
		}

		flush()
		if isDirective(text, ".end") {
			break
		}
		current = line{num: num, text: text}
	}
	flush()
	return title, lines, scanner.Err()
}

func isDirective(text, name string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && strings.EqualFold(fields[0], name)
}

// keyValues splits "a=1 b = 2" into pairs.
func keyValues(text string) ([][2]string, error) {
	text = strings.ReplaceAll(text, " =", "=")
	text = strings.ReplaceAll(text, "= ", "=")
	var pairs [][2]string
	for _, f := range strings.Fields(text) {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("expected name=value, got %q", f)
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

func (nl *Netlist) parseParam(text string) error {
	fields := strings.SplitN(text, " ", 2)
	if len(fields) < 2 {
		return fmt.Errorf("empty .param")
	}
	pairs, err := keyValues(fields[1])
	if err != nil {
		return err
	}
	for _, p := range pairs {
		v, err := nl.value(p[1])
		if err != nil {
			return fmt.Errorf("param %s: %w", p[0], err)
		}
		nl.Params[p[0]] = v
	}
	return nil
}

// Parse .tran, .ic, .options
func (nl *Netlist) parseDotOperator(text string) error {
	fields := strings.Fields(text)
	var err error

	switch strings.ToLower(fields[0]) {
	case ".param":
		return nil

	case ".tran":
		if len(fields) < 3 {
			return fmt.Errorf("insufficient tran parameters, need at least tstep and tstop")
		}
		tp := TranParams{}
		if tp.TStep, err = nl.value(fields[1]); err != nil {
			return fmt.Errorf("invalid tstep: %w", err)
		}
		if tp.TStop, err = nl.value(fields[2]); err != nil {
			return fmt.Errorf("invalid tstop: %w", err)
		}
		pos := 0
		for _, f := range fields[3:] {
			if strings.EqualFold(f, "uic") {
				tp.UIC = true
				continue
			}
			v, err := nl.value(f)
			if err != nil {
				return fmt.Errorf("invalid tran parameter %q: %w", f, err)
			}
			switch pos {
			case 0:
				tp.TStart = v
			case 1:
				tp.TMax = v
			default:
				return fmt.Errorf("too many tran parameters")
			}
			pos++
		}
		nl.Tran = tp
		nl.HasTran = true

	case ".ic":
		pairs, err := keyValues(strings.Join(fields[1:], " "))
		if err != nil {
			return err
		}
		for _, p := range pairs {
			v, err := nl.value(p[1])
			if err != nil {
				return fmt.Errorf("ic %s: %w", p[0], err)
			}
			nl.InitialConditions[p[0]] = v
		}

	case ".options", ".option":
		pairs, err := keyValues(strings.Join(fields[1:], " "))
		if err != nil {
			return err
		}
		for _, p := range pairs {
			nl.Options[strings.ToLower(p[0])] = p[1]
		}

	default:
		return fmt.Errorf("unsupported directive: %s", fields[0])
	}
	return nil
}

// value reads a number with an optional scale factor, or a constant
// expression over the parameters such as {q_L0*2}.
func (nl *Netlist) value(s string) (float64, error) {
	if v, err := ParseValue(s); err == nil {
		return v, nil
	}
	tree, err := expr.Parse(s, nl.Params)
	if err != nil {
		return 0, err
	}
	v, ok := tree.Constant()
	if !ok {
		return 0, &simerr.ParseError{Text: s, Pos: -1, Msg: "value must be constant"}
	}
	return v, nil
}

// Parse circuit element
func (nl *Netlist) parseElement(b *circuit.Builder, text string) error {
	fields := strings.Fields(text)
	if len(fields) < 4 {
		return fmt.Errorf("invalid element format: %s", text)
	}
	name := fields[0]

	switch strings.ToUpper(name[:1]) {
	case "R":
		v, err := nl.value(fields[3])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return b.AddResistor(name, fields[1], fields[2], v)

	case "C", "L":
		v, err := nl.value(fields[3])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		var opts []circuit.ElementOption
		pairs, err := keyValues(strings.Join(fields[4:], " "))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, p := range pairs {
			if !strings.EqualFold(p[0], "ic") {
				return fmt.Errorf("%s: unknown parameter %s", name, p[0])
			}
			ic, err := nl.value(p[1])
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			opts = append(opts, circuit.IC(ic))
		}
		if strings.EqualFold(name[:1], "C") {
			return b.AddCapacitor(name, fields[1], fields[2], v, opts...)
		}
		return b.AddInductor(name, fields[1], fields[2], v, opts...)

	case "K":
		if len(fields) != 4 {
			return fmt.Errorf("%s: need two inductors and a coupling coefficient", name)
		}
		k, err := nl.value(fields[3])
		if err != nil {
			return fmt.Errorf("%s: invalid coupling coefficient: %w", name, err)
		}
		return b.AddMutual(name, fields[1], fields[2], k)

	case "V":
		return nl.parseVoltageSource(b, fields)

	case "B":
		return parseBehavioral(b, fields)

	default:
		return fmt.Errorf("unsupported element: %s", name)
	}
}

func (nl *Netlist) parseVoltageSource(b *circuit.Builder, fields []string) error {
	name, np, nm := fields[0], fields[1], fields[2]

	remaining := strings.Join(fields[3:], " ")
	remaining = strings.ReplaceAll(remaining, "(", " ( ")
	remaining = strings.ReplaceAll(remaining, ")", " ) ")
	words := strings.Fields(remaining)

	kind := strings.ToUpper(words[0])
	args := words[1:]
	if kind != "DC" && kind != "PULSE" && kind != "PWL" && kind != "SIN" {
		kind, args = "DC", words
	}
	if len(args) > 0 && args[0] == "(" {
		if args[len(args)-1] != ")" {
			return fmt.Errorf("%s: unbalanced parentheses", name)
		}
		args = args[1 : len(args)-1]
	}
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := nl.value(a)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		values[i] = v
	}

	switch kind {
	case "DC":
		if len(values) != 1 {
			return fmt.Errorf("%s: missing DC value", name)
		}
		return b.AddVoltageSource(name, np, nm, values[0])

	case "PULSE":
		if len(values) != 7 {
			return fmt.Errorf("%s: PULSE needs v1 v2 td tr tf pw per", name)
		}
		return b.AddPulseSource(name, np, nm, circuit.Pulse{
			Initial: values[0],
			Pulsed:  values[1],
			Delay:   values[2],
			Rise:    values[3],
			Fall:    values[4],
			Width:   values[5],
			Period:  values[6],
		})

	case "PWL":
		if len(values) < 2 || len(values)%2 != 0 {
			return fmt.Errorf("%s: PWL needs time-value pairs", name)
		}
		times := make([]float64, 0, len(values)/2)
		levels := make([]float64, 0, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			times = append(times, values[i])
			levels = append(levels, values[i+1])
		}
		return b.AddPWLSource(name, np, nm, times, levels)

	default: // SIN
		if len(values) < 3 || len(values) > 4 {
			return fmt.Errorf("%s: SIN needs vo va freq [phase]", name)
		}
		var phase float64
		if len(values) == 4 {
			phase = values[3]
		}
		return b.AddSinSource(name, np, nm, values[0], values[1], values[2], phase)
	}
}

// parseBehavioral reads "Bname n+ n- I=expr" or "V=expr". The expression is
// the rest of the card and may contain spaces.
func parseBehavioral(b *circuit.Builder, fields []string) error {
	name, np, nm := fields[0], fields[1], fields[2]
	rest := strings.Join(fields[3:], " ")
	mode, expression, ok := strings.Cut(rest, "=")
	if !ok {
		return fmt.Errorf("%s: expected I=expr or V=expr", name)
	}
	expression = strings.TrimSpace(expression)
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "I":
		return b.AddBehavioralCurrent(name, np, nm, expression)
	case "V":
		return b.AddBehavioralVoltage(name, np, nm, expression)
	}
	return fmt.Errorf("%s: expected I=expr or V=expr", name)
}

// AnalysisConfig turns .tran and .options into a driver config. Fields the
// netlist does not set are left zero for the driver defaults.
func (nl *Netlist) AnalysisConfig() (analysis.Config, error) {
	cfg := analysis.Config{
		StartTime:            nl.Tran.TStart,
		EndTime:              nl.Tran.TStop,
		DtInitial:            nl.Tran.TStep,
		DtMax:                nl.Tran.TMax,
		UseInitialConditions: nl.Tran.UIC,
		Policy:               expr.DefaultPolicy,
	}
	if cfg.DtMax == 0 {
		cfg.DtMax = nl.Tran.TStep
	}
	return cfg, nl.ApplyOptions(&cfg)
}

// ApplyOptions writes the .options values into cfg.
func (nl *Netlist) ApplyOptions(cfg *analysis.Config) error {
	for key, raw := range nl.Options {
		var err error
		switch key {
		case "method":
			cfg.Scheme, err = util.ParseScheme(raw)
		case "backend", "solver":
			cfg.Backend = matrix.Backend(strings.ToLower(raw))
		case "itl4", "maxiter":
			cfg.NewtonMaxIter, err = strconv.Atoi(raw)
		case "retries":
			cfg.MaxStepRetries, err = strconv.Atoi(raw)
		case "uic":
			cfg.UseInitialConditions, err = strconv.ParseBool(raw)
		default:
			var target *float64
			switch key {
			case "reltol":
				target = &cfg.RelTol
			case "abstol", "newton_tol":
				target = &cfg.NewtonTol
			case "gmin":
				target = &cfg.Gmin
			case "trtol":
				target = &cfg.TrTol
			case "lte_reltol":
				target = &cfg.LteRelTol
			case "lte_abstol", "chgtol":
				target = &cfg.LteAbsTol
			case "dtmin":
				target = &cfg.DtMin
			case "growth":
				target = &cfg.Growth
			case "div_epsilon":
				target = &cfg.Policy.Epsilon
			case "div_floor":
				target = &cfg.Policy.Floor
			default:
				return fmt.Errorf("unknown option %q", key)
			}
			*target, err = nl.value(raw)
		}
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
	}
	return nil
}

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

var valuePattern = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)(meg|[TGKkmunpf])?$`)

// ParseValue - Parse value and factor. 1k -> 1000
func ParseValue(val string) (float64, error) {
	matches := valuePattern.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}
	if matches[2] != "" {
		num *= unitMap[matches[2]]
	}
	return num, nil
}
