package analyzer

const (
	bootstrapLambdaMetafactory  = "java.lang.invoke.LambdaMetafactory"
	bootstrapStringConcatFactory = "java.lang.invoke.StringConcatFactory"
)

// resolvedInvokeDynamic is the decoded form of one invokedynamic
// instruction's bootstrap, resolved against the BootstrapMethods
// attribute and constant pool.
type resolvedInvokeDynamic struct {
	bootstrapOwner  string // e.g. "java.lang.invoke.LambdaMetafactory"
	bootstrapMethod string // e.g. "metafactory"
	invokedName     string // the interface method being implemented, e.g. "run"
	invokedDesc     string // descriptor of the call site
	implMethod      string // simple name of the lambda body method (LambdaMetafactory only); lambdaImplFQN joins it with implOwner
	implDesc        string
	implOwner       string
}

// resolveInvokeDynamic resolves a CONSTANT_InvokeDynamic constant pool
// entry at idx against cf's BootstrapMethods attribute. It returns
// ok=false if the bootstrap can't be resolved (malformed class), which the
// caller treats as "emit nothing" rather than aborting the class.
func (cf *classFile) resolveInvokeDynamic(idx uint16) (resolvedInvokeDynamic, bool) {
	if int(idx) >= len(cf.cp) {
		return resolvedInvokeDynamic{}, false
	}
	e := cf.cp[idx]
	if e.tag != cpInvokeDynamic {
		return resolvedInvokeDynamic{}, false
	}
	if int(e.bootstrapMethodAttrIndex) >= len(cf.bootstrapMethods) {
		return resolvedInvokeDynamic{}, false
	}
	bm := cf.bootstrapMethods[e.bootstrapMethodAttrIndex]
	name, desc := cf.nameAndType(e.bsNameAndTypeIndex)

	owner, methodName, _ := cf.methodHandleRef(bm.methodRefIndex)
	r := resolvedInvokeDynamic{
		bootstrapOwner:  owner,
		bootstrapMethod: methodName,
		invokedName:     name,
		invokedDesc:     desc,
	}

	if owner == bootstrapLambdaMetafactory && len(bm.args) >= 2 {
		// LambdaMetafactory.metafactory's static args are
		// (samMethodType, implMethod, instantiatedMethodType); the
		// implementation method handle is argument index 1.
		implOwner, implName, implDesc := cf.methodHandleRef(bm.args[1])
		r.implOwner = implOwner
		r.implMethod = implName
		r.implDesc = implDesc
	}
	return r, true
}

// methodHandleRef resolves a MethodHandle constant pool index to the
// (owner, name, descriptor) of the method/field it references.
func (cf *classFile) methodHandleRef(idx uint16) (owner, name, desc string) {
	if int(idx) >= len(cf.cp) {
		return "", "", ""
	}
	e := cf.cp[idx]
	if e.tag != cpMethodHandle {
		return "", "", ""
	}
	// referenceIndex points at a Methodref/Fieldref/InterfaceMethodref
	// whose owner/name/desc we already know how to resolve.
	owner, name, desc = cf.methodRef(e.referenceIndex)
	return binaryName(owner), name, desc
}

// lambdaImplFQN formats the implementation method's owning-class FQN for
// use as an edge to_fqn target, e.g. "com.acme.Foo#lambda$run$0".
func lambdaImplFQN(r resolvedInvokeDynamic) string {
	if r.implOwner == "" || r.implMethod == "" {
		return ""
	}
	return r.implOwner + "#" + r.implMethod
}
