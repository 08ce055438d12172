package analyzer

import (
	"bytes"
)

// Recognised annotation FQNs (spec §4.1), expressed in the dotted
// fully-qualified form the classfile's RuntimeVisibleAnnotations attribute
// stores as a field-descriptor-style "Lcom/foo/Bar;" type_index entry.
const (
	annComponent     = "org.springframework.stereotype.Component"
	annService       = "org.springframework.stereotype.Service"
	annRepository    = "org.springframework.stereotype.Repository"
	annController    = "org.springframework.stereotype.Controller"
	annRestController = "org.springframework.web.bind.annotation.RestController"
	annConfiguration = "org.springframework.context.annotation.Configuration"

	annAutowired = "org.springframework.beans.factory.annotation.Autowired"
	annQualifier = "org.springframework.beans.factory.annotation.Qualifier"
	annValue     = "org.springframework.beans.factory.annotation.Value"
	annInject    = "javax.inject.Inject"
	annResource  = "javax.annotation.Resource"

	annTransactional = "org.springframework.transaction.annotation.Transactional"
	annAsync         = "org.springframework.scheduling.annotation.Async"
	annScheduled     = "org.springframework.scheduling.annotation.Scheduled"
	annBean          = "org.springframework.context.annotation.Bean"

	annAspect         = "org.aspectj.lang.annotation.Aspect"
	annBefore         = "org.aspectj.lang.annotation.Before"
	annAfter          = "org.aspectj.lang.annotation.After"
	annAround         = "org.aspectj.lang.annotation.Around"
	annAfterReturning = "org.aspectj.lang.annotation.AfterReturning"
	annAfterThrowing  = "org.aspectj.lang.annotation.AfterThrowing"

	annPrimary = "org.springframework.context.annotation.Primary"
	annScope   = "org.springframework.context.annotation.Scope"
	annLazy    = "org.springframework.context.annotation.Lazy"

	annMyBatisMapper = "org.apache.ibatis.annotations.Mapper"
	annMyBatisSelect = "org.apache.ibatis.annotations.Select"
	annMyBatisInsert = "org.apache.ibatis.annotations.Insert"
	annMyBatisUpdate = "org.apache.ibatis.annotations.Update"
	annMyBatisDelete = "org.apache.ibatis.annotations.Delete"
)

var stereotypeAnnotations = map[string]bool{
	annComponent: true, annService: true, annRepository: true,
	annController: true, annRestController: true, annConfiguration: true,
}

var aspectAdviceAnnotations = map[string]string{
	annBefore:         "before",
	annAfter:          "after",
	annAround:         "around",
	annAfterReturning: "after_returning",
	annAfterThrowing:  "after_throwing",
}

var mybatisStatementAnnotations = map[string]string{
	annMyBatisSelect: "select",
	annMyBatisInsert: "insert",
	annMyBatisUpdate: "update",
	annMyBatisDelete: "delete",
}

// parsedAnnotation is one decoded annotation entry: its FQN plus a flat
// element_value map (string/int/bool/enum-as-string; arrays flattened to
// their first element, adequate for the scalar configuration attributes
// spec §4.1 enumerates).
type parsedAnnotation struct {
	fqn    string
	values map[string]any
}

// annotationReader decodes the RuntimeVisibleAnnotations attribute body
// (JVM spec 4.7.16), using the same classFile constant pool for utf8/type
// resolution.
type annotationReader struct {
	cf *classFile
	c  *cursor
}

func (cf *classFile) parseAnnotations(content []byte) ([]parsedAnnotation, error) {
	ar := &annotationReader{cf: cf, c: &cursor{r: bytes.NewReader(content)}}
	count, err := ar.c.u2()
	if err != nil {
		return nil, err
	}
	out := make([]parsedAnnotation, 0, count)
	for i := uint16(0); i < count; i++ {
		a, err := ar.readAnnotation()
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (ar *annotationReader) readAnnotation() (parsedAnnotation, error) {
	typeIdx, err := ar.c.u2()
	if err != nil {
		return parsedAnnotation{}, err
	}
	pa := parsedAnnotation{fqn: descriptorToFQN(ar.cf.utf8At(typeIdx)), values: map[string]any{}}

	pairCount, err := ar.c.u2()
	if err != nil {
		return pa, err
	}
	for i := uint16(0); i < pairCount; i++ {
		nameIdx, err := ar.c.u2()
		if err != nil {
			return pa, err
		}
		val, err := ar.readElementValue()
		if err != nil {
			return pa, err
		}
		pa.values[ar.cf.utf8At(nameIdx)] = val
	}
	return pa, nil
}

// readElementValue decodes one element_value structure (JVM spec 4.7.16.1).
func (ar *annotationReader) readElementValue() (any, error) {
	tag, err := ar.c.u1()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'B', 'C', 'I', 'S':
		idx, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		return int(cpIntValue(ar.cf, idx)), nil
	case 'Z':
		idx, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		return cpIntValue(ar.cf, idx) != 0, nil
	case 'D', 'F', 'J':
		if _, err := ar.c.u2(); err != nil {
			return nil, err
		}
		return nil, nil
	case 's':
		idx, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		return ar.cf.utf8At(idx), nil
	case 'e':
		_, _ = ar.c.u2()
		constIdx, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		return ar.cf.utf8At(constIdx), nil
	case 'c':
		idx, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		return descriptorToFQN(ar.cf.utf8At(idx)), nil
	case '@':
		nested, err := ar.readAnnotation()
		return nested, err
	case '[':
		n, err := ar.c.u2()
		if err != nil {
			return nil, err
		}
		var first any
		for i := uint16(0); i < n; i++ {
			v, err := ar.readElementValue()
			if err != nil {
				return first, err
			}
			if i == 0 {
				first = v
			}
		}
		return first, nil
	default:
		return nil, nil
	}
}

// cpIntValue reads a constant pool CONSTANT_Integer's raw value, used by
// the 'B'/'C'/'I'/'S'/'Z' element_value tags (JVM spec 4.7.16.1 — boolean,
// byte, char, short, and int element values are all stored as a plain
// CONSTANT_Integer, with the annotation reader interpreting the bit
// pattern per its own tag).
func cpIntValue(cf *classFile, idx uint16) int32 {
	if int(idx) >= len(cf.cp) {
		return 0
	}
	return cf.cp[idx].intValue
}

// descriptorToFQN converts a field descriptor "Lcom/foo/Bar;" to its
// dotted FQN "com.foo.Bar". Non-object descriptors are returned unchanged.
func descriptorToFQN(desc string) string {
	if len(desc) >= 3 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return binaryName(desc[1 : len(desc)-1])
	}
	return desc
}
