package analyzer

// proxyType mirrors the store attribute's closed value set
// (spec §3: proxy_type ∈ {jdk, cglib, jdk_or_cglib}); "" means undefined.
type proxyType string

const (
	proxyCGLIB     proxyType = "cglib"
	proxyJDKOrCGLIB proxyType = "jdk_or_cglib"
	proxyUndefined proxyType = ""
)

// inferProxy implements spec §4.1's proxy inference rule: cglib when the
// class is final or declares no interfaces, jdk_or_cglib when it declares
// interfaces and is not final, undefined otherwise (i.e. when the class
// isn't actually a proxy candidate).
func inferProxy(isCandidate bool, isFinal bool, interfaceCount int) proxyType {
	if !isCandidate {
		return proxyUndefined
	}
	if isFinal || interfaceCount == 0 {
		return proxyCGLIB
	}
	return proxyJDKOrCGLIB
}

// adviceSignals records the advice that would make Spring wrap a class in a
// dynamic proxy: @Transactional/@Async on any method, or the class itself
// is an @Aspect. needsProxy reports whether any of them is present.
type adviceSignals struct {
	isAspect       bool
	hasTransactional bool
	hasAsync       bool
}

func (s adviceSignals) needsProxy() bool {
	return s.isAspect || s.hasTransactional || s.hasAsync
}
