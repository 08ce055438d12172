package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
	"ariadne/internal/store"
)

const (
	ifaceQuartzJob           = "org.quartz.Job"
	classQuartzJobBeanSpring = "org.springframework.scheduling.quartz.QuartzJobBean"
)

// invocationOpcodes maps the five call-instruction opcodes this analyser
// resolves to their §4.1 "kind" string.
var invocationOpcodes = map[byte]string{
	0xB6: "invokevirtual",
	0xB7: "invokespecial",
	0xB8: "invokestatic",
	0xB9: "invokeinterface",
	0xBA: "invokedynamic",
}

// Analyser implements the ClassAnalyser contract: analyse(path) ->
// (nodes[], edges[]), with per-class failure containment (spec §4.1).
type Analyser struct {
	cronParser cron.Parser
}

// New builds an Analyser. cron.ParseStandard's 5-field parser validates
// @Scheduled cron expressions before they are persisted.
func New() *Analyser {
	return &Analyser{cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
}

// Analyse parses one classfile and extracts its symbols and edges. A parse
// error returns a non-nil error and nil/empty slices; callers must not
// treat that as fatal to a batch (spec §4.1 failure model).
func (a *Analyser) Analyse(ctx context.Context, path string) ([]store.Symbol, []store.Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errkind.New(errkind.ParseError, path, fmt.Errorf("reading classfile: %w", err))
	}
	cf, err := parseClassFile(data)
	if err != nil {
		return nil, nil, errkind.New(errkind.ParseError, path, err)
	}
	return a.extract(path, cf)
}

func (a *Analyser) extract(path string, cf *classFile) ([]store.Symbol, []store.Edge, error) {
	className := binaryName(cf.className(cf.thisClass))
	if className == "" {
		return nil, nil, errkind.New(errkind.ParseError, path, fmt.Errorf("unresolvable this_class"))
	}

	classAttrs := map[string]any{}
	var classAnnotations []string
	var classNode store.Symbol
	var edges []store.Edge
	var nodes []store.Symbol

	isFinal := hasFlag(cf.accessFlags, accFinal)
	isInterfaceDecl := hasFlag(cf.accessFlags, accInterface)

	var runtimeAnns []parsedAnnotation
	for _, at := range cf.attrs {
		if at.name == "RuntimeVisibleAnnotations" {
			parsed, _ := cf.parseAnnotations(at.content)
			runtimeAnns = append(runtimeAnns, parsed...)
		}
	}

	var adv adviceSignals
	springBeanType := ""
	springBeanName := ""
	for _, pa := range runtimeAnns {
		classAnnotations = append(classAnnotations, pa.fqn)
		switch {
		case stereotypeAnnotations[pa.fqn]:
			classAttrs["spring_bean"] = true
			springBeanType = strings.ToLower(lastSegment(pa.fqn))
			if v, ok := pa.values["value"].(string); ok && v != "" {
				springBeanName = v
			} else {
				springBeanName = lowerFirst(lastSegment(className))
			}
			if pa.fqn == annController || pa.fqn == annRestController {
				classAttrs["is_entry_point"] = true
				classAttrs["entry_point_type"] = string(store.EntryHTTP)
			}
		case pa.fqn == annAspect:
			classAttrs["aspect"] = true
			adv.isAspect = true
		case pa.fqn == annConfiguration:
			classAttrs["configuration"] = true
		case pa.fqn == annPrimary:
			classAttrs["primary"] = true
		case pa.fqn == annLazy:
			classAttrs["lazy"] = true
		case pa.fqn == annScope:
			if v, ok := pa.values["value"].(string); ok {
				classAttrs["scope"] = v
			}
		case pa.fqn == annMyBatisMapper:
			classAttrs["mybatis_mapper"] = true
		}
	}
	if springBeanType != "" {
		classAttrs["spring_bean_type"] = springBeanType
		classAttrs["spring_bean_name"] = springBeanName
	}
	if isFinal {
		classAttrs["final_class"] = true
	}

	interfaceFQNs := make([]string, 0, len(cf.interfaces))
	for _, idx := range cf.interfaces {
		iface := binaryName(cf.className(idx))
		if iface != "" {
			interfaceFQNs = append(interfaceFQNs, iface)
			if iface == ifaceQuartzJob {
				classAttrs["is_entry_point"] = true
				classAttrs["entry_point_type"] = string(store.EntryQuartzJob)
			}
		}
	}
	superFQN := binaryName(cf.className(cf.superClass))
	if superFQN == classQuartzJobBeanSpring {
		classAttrs["is_entry_point"] = true
		classAttrs["entry_point_type"] = string(store.EntryQuartzJobSpring)
	}
	if superFQN != "" && superFQN != "java.lang.Object" {
		edges = append(edges, store.Edge{FromFQN: className, ToFQN: superFQN, Relation: store.RelationExtends, Kind: "extends"})
	}
	for _, iface := range interfaceFQNs {
		edges = append(edges, store.Edge{FromFQN: className, ToFQN: iface, Relation: store.RelationImplements, Kind: "implements"})
	}

	// Methods are scanned first (advice/transactional/async signals feed
	// proxy inference for the class node emitted afterward).
	var methodNodes []store.Symbol
	for _, m := range cf.methods {
		mn, medges, signals := a.extractMethod(path, cf, className, m)
		methodNodes = append(methodNodes, mn)
		edges = append(edges, medges...)
		if signals.hasTransactional {
			adv.hasTransactional = true
		}
		if signals.hasAsync {
			adv.hasAsync = true
		}
	}

	isProxyCandidate := classAttrs["spring_bean"] == true || classAttrs["aspect"] == true || adv.hasTransactional || adv.hasAsync
	pt := inferProxy(isProxyCandidate, isFinal, len(interfaceFQNs))
	if pt != proxyUndefined {
		classAttrs["proxy_type"] = string(pt)
	}
	if adv.needsProxy() {
		classAttrs["needs_proxy"] = true
	}

	kind := store.KindClass
	if isInterfaceDecl {
		kind = store.KindInterface
	}
	modifiers := accessFlagModifiers(cf.accessFlags)
	classNode = store.Symbol{
		FQN: className, Kind: kind, Name: lastSegment(className),
		FilePath: path, LineNumber: 0, Modifiers: modifiers,
		Signature: className, Annotations: classAnnotations, Attrs: classAttrs,
	}
	nodes = append(nodes, classNode)
	nodes = append(nodes, methodNodes...)

	for _, f := range cf.fields {
		fn, fedges := a.extractField(path, cf, className, f)
		nodes = append(nodes, fn)
		edges = append(edges, fedges...)
	}

	return nodes, edges, nil
}

type methodSignals struct {
	hasTransactional bool
	hasAsync         bool
}

func (a *Analyser) extractMethod(path string, cf *classFile, className string, m methodInfo) (store.Symbol, []store.Edge, methodSignals) {
	name := cf.utf8At(m.nameIndex)
	desc := cf.utf8At(m.descIndex)
	fqn := className + "#" + name + desc

	attrs := map[string]any{}
	var anns []string
	var edges []store.Edge
	var signals methodSignals
	var code *codeAttrib

	for _, at := range m.attrs {
		switch at.name {
		case "RuntimeVisibleAnnotations":
			parsed, _ := cf.parseAnnotations(at.content)
			for _, pa := range parsed {
				anns = append(anns, pa.fqn)
				switch pa.fqn {
				case annTransactional:
					attrs["transactional"] = true
					signals.hasTransactional = true
					if v, ok := pa.values["propagation"].(string); ok {
						attrs["transaction_propagation"] = v
					}
					if v, ok := pa.values["isolation"].(string); ok {
						attrs["transaction_isolation"] = v
					}
					if v, ok := pa.values["timeout"].(int); ok {
						attrs["transaction_timeout"] = v
					}
					if v, ok := pa.values["readOnly"].(bool); ok {
						attrs["transaction_read_only"] = v
					}
				case annAsync:
					attrs["async"] = true
					signals.hasAsync = true
				case annScheduled:
					attrs["is_entry_point"] = true
					attrs["entry_point_type"] = string(store.EntryScheduled)
					if cronExpr, ok := pa.values["cron"].(string); ok && cronExpr != "" {
						if _, perr := a.cronParser.Parse(cronExpr); perr != nil {
							logging.Warnf(logging.CategoryAnalyzer, "invalid cron expression on %s: %v", fqn, perr)
						} else {
							attrs["scheduled_cron"] = cronExpr
						}
					}
				case annBean:
					attrs["bean_method"] = true
					if v, ok := pa.values["initMethod"].(string); ok {
						attrs["init_method"] = v
					}
					if v, ok := pa.values["destroyMethod"].(string); ok {
						attrs["destroy_method"] = v
					}
				default:
					if adviceKind, ok := aspectAdviceAnnotations[pa.fqn]; ok {
						attrs["advice_type"] = adviceKind
						if v, ok := pa.values["value"].(string); ok {
							attrs["pointcut_expression"] = v
						}
					}
					if stmtKind, ok := mybatisStatementAnnotations[pa.fqn]; ok {
						attrs["mybatis_sql"] = stmtKind
					}
				}
			}
		case "Code":
			code, _ = cf.parseCode(at.content)
		}
	}

	if code != nil {
		edges = append(edges, a.extractCallEdges(cf, className, fqn, code)...)
	}

	lineNumber := 0
	if code != nil && len(code.lineTable) > 0 {
		lineNumber = int(code.lineTable[0].lineNumber)
	}

	return store.Symbol{
		FQN: fqn, Kind: store.KindMethod, Name: name, FilePath: path,
		LineNumber: lineNumber, Modifiers: accessFlagModifiers(m.accessFlags),
		Signature: desc, ParentFQN: className, Annotations: anns, Attrs: attrs,
	}, edges, signals
}

// extractCallEdges walks a method's bytecode for the four invocation
// opcodes and any invokedynamic, emitting calls/lambda/invokedynamic edges
// per spec §4.1. This is a linear scan over variable-length instructions,
// not a full control-flow decode: only operand bytes for the opcodes this
// analyser cares about are consumed precisely; all others are skipped via
// a fixed or computed operand-length table sufficient to stay in sync.
func (a *Analyser) extractCallEdges(cf *classFile, className, fromFQN string, code *codeAttrib) []store.Edge {
	var edges []store.Edge
	b := code.code
	i := 0
	for i < len(b) {
		op := b[i]
		switch op {
		case 0xB6, 0xB7, 0xB8, 0xB9: // invoke{virtual,special,static,interface}
			if i+2 >= len(b) {
				i = len(b)
				break
			}
			idx := uint16(b[i+1])<<8 | uint16(b[i+2])
			owner, name, desc := cf.methodRef(idx)
			ownerFQN := binaryName(owner)
			if ownerFQN != "" && name != "" && !isPrimitiveOrBoxedOrString(ownerFQN) {
				edges = append(edges, store.Edge{
					FromFQN: fromFQN, ToFQN: ownerFQN + "#" + name + desc,
					Relation: store.RelationCalls, Kind: invocationOpcodes[op],
				})
			}
			if op == 0xB9 {
				i += 5 // invokeinterface has 2 extra operand bytes
			} else {
				i += 3
			}
		case 0xBA: // invokedynamic
			if i+2 >= len(b) {
				i = len(b)
				break
			}
			idx := uint16(b[i+1])<<8 | uint16(b[i+2])
			if r, ok := cf.resolveInvokeDynamic(idx); ok {
				switch r.bootstrapOwner {
				case bootstrapStringConcatFactory:
					// dropped: no edge emitted (spec §4.1)
				case bootstrapLambdaMetafactory:
					to := lambdaImplFQN(r)
					if to != "" {
						edges = append(edges, store.Edge{
							FromFQN: fromFQN, ToFQN: to,
							Relation: store.RelationLambda, Kind: "lambda",
							Metadata: map[string]any{
								"lambda_name":            r.invokedName,
								"lambda_descriptor":      r.invokedDesc,
								"bootstrap_method_owner": r.bootstrapOwner,
								"bootstrap_method_name":  r.bootstrapMethod,
							},
						})
					}
				default:
					if r.bootstrapOwner != "" {
						edges = append(edges, store.Edge{
							FromFQN: fromFQN, ToFQN: "",
							Relation: store.RelationInvokeDyn, Kind: "invokedynamic",
							Metadata: map[string]any{
								"bootstrap_method_owner": r.bootstrapOwner,
								"bootstrap_method_name":  r.bootstrapMethod,
								"invoked_name":           r.invokedName,
								"invoked_descriptor":     r.invokedDesc,
							},
						})
					}
				}
			}
			i += 5 // invokedynamic: 2-byte index + 2 reserved zero bytes
		default:
			i += instructionLength(b, i)
		}
	}
	return edges
}

func (a *Analyser) extractField(path string, cf *classFile, className string, f fieldInfo) (store.Symbol, []store.Edge) {
	name := cf.utf8At(f.nameIndex)
	desc := cf.utf8At(f.descIndex)
	fqn := className + "#" + name
	attrs := map[string]any{}
	var anns []string
	var edges []store.Edge
	injected := false
	var qualifier string

	for _, at := range f.attrs {
		if at.name != "RuntimeVisibleAnnotations" {
			continue
		}
		parsed, _ := cf.parseAnnotations(at.content)
		for _, pa := range parsed {
			anns = append(anns, pa.fqn)
			switch pa.fqn {
			case annAutowired, annInject, annResource:
				injected = true
				attrs["injected"] = true
			case annQualifier:
				if v, ok := pa.values["value"].(string); ok {
					qualifier = v
				}
			case annValue:
				attrs["value_expression"] = true
			}
		}
	}

	fieldType := descriptorToFQN(desc)
	if injected && fieldType != "" && !isPrimitiveOrBoxedOrString(fieldType) {
		edges = append(edges, store.Edge{
			FromFQN: fieldType, ToFQN: className,
			Relation: store.RelationMemberOf, Kind: "class:autowired",
			Metadata: map[string]any{"qualifier": qualifier},
		})
	}

	return store.Symbol{
		FQN: fqn, Kind: store.KindField, Name: name, FilePath: path,
		Modifiers: accessFlagModifiers(f.accessFlags), Signature: desc,
		ParentFQN: className, Annotations: anns, Attrs: attrs,
	}, edges
}

var primitiveDescriptors = map[byte]bool{'B': true, 'C': true, 'D': true, 'F': true, 'I': true, 'J': true, 'S': true, 'Z': true}

var boxedAndString = map[string]bool{
	"java.lang.Boolean": true, "java.lang.Byte": true, "java.lang.Character": true,
	"java.lang.Double": true, "java.lang.Float": true, "java.lang.Integer": true,
	"java.lang.Long": true, "java.lang.Short": true, "java.lang.String": true,
	"java.lang.Void": true,
}

// isPrimitiveOrBoxedOrString implements the §4.1 primitive-filtering rule:
// primitives, their boxed wrappers, and java.lang.String never materialise
// as edges.
func isPrimitiveOrBoxedOrString(fqnOrDesc string) bool {
	if len(fqnOrDesc) == 1 && primitiveDescriptors[fqnOrDesc[0]] {
		return true
	}
	return boxedAndString[fqnOrDesc]
}

func lastSegment(fqn string) string {
	if i := strings.LastIndexByte(fqn, '.'); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func accessFlagModifiers(flags uint16) []string {
	var mods []string
	if hasFlag(flags, accPublic) {
		mods = append(mods, "public")
	}
	if hasFlag(flags, accPrivate) {
		mods = append(mods, "private")
	}
	if hasFlag(flags, accProtected) {
		mods = append(mods, "protected")
	}
	if hasFlag(flags, accStatic) {
		mods = append(mods, "static")
	}
	if hasFlag(flags, accFinal) {
		mods = append(mods, "final")
	}
	if hasFlag(flags, accAbstract) {
		mods = append(mods, "abstract")
	}
	return mods
}

// AnalyzeProject walks root for .class files and analyses each one
// concurrently, bounded by runtime parallelism via errgroup.SetLimit. A
// per-file failure is recorded, never propagated (spec §4.1).
func (a *Analyser) AnalyzeProject(ctx context.Context, root string, concurrency int) (*BatchResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalyzer, "AnalyzeProject")
	defer timer.Stop()

	var paths []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".class") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.New(errkind.ParseError, root, fmt.Errorf("walking project tree: %w", err))
	}

	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	result := &BatchResult{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			nodes, edges, err := a.Analyse(gCtx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[p] = err
				logging.Warnf(logging.CategoryAnalyzer, "parse failed for %s: %v", p, err)
				return nil
			}
			result.Nodes = append(result.Nodes, nodes...)
			result.Edges = append(result.Edges, edges...)
			return nil
		})
	}
	_ = g.Wait() // per-file errors are contained above; g.Wait never fails here

	return result, nil
}

// BatchResult is the aggregate of AnalyzeProject: every successfully
// parsed class's nodes/edges, plus a map of failed paths to their errors.
type BatchResult struct {
	Nodes  []store.Symbol
	Edges  []store.Edge
	Failed map[string]error
}
