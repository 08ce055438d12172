package analyzer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"ariadne/internal/store"
)

// classBuilder assembles a minimal, valid classfile byte stream for
// tests, without going through a real javac — only the structures this
// package's parser and extraction logic touch are populated.
type classBuilder struct {
	buf bytes.Buffer
	cp  [][]byte // raw encoded constant pool entries, in order (1-indexed conceptually)
}

func newClassBuilder() *classBuilder { return &classBuilder{} }

// addUtf8 appends a CONSTANT_Utf8 entry and returns its 1-based index.
func (b *classBuilder) addUtf8(s string) uint16 {
	var e bytes.Buffer
	e.WriteByte(cpUtf8)
	binary.Write(&e, binary.BigEndian, uint16(len(s)))
	e.WriteString(s)
	b.cp = append(b.cp, e.Bytes())
	return uint16(len(b.cp))
}

// addClass appends a CONSTANT_Class entry referencing a Utf8 name index.
func (b *classBuilder) addClass(nameIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(cpClass)
	binary.Write(&e, binary.BigEndian, nameIdx)
	b.cp = append(b.cp, e.Bytes())
	return uint16(len(b.cp))
}

func (b *classBuilder) addNameAndType(nameIdx, descIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(cpNameAndType)
	binary.Write(&e, binary.BigEndian, nameIdx)
	binary.Write(&e, binary.BigEndian, descIdx)
	b.cp = append(b.cp, e.Bytes())
	return uint16(len(b.cp))
}

func (b *classBuilder) addMethodref(classIdx, natIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(cpMethodref)
	binary.Write(&e, binary.BigEndian, classIdx)
	binary.Write(&e, binary.BigEndian, natIdx)
	b.cp = append(b.cp, e.Bytes())
	return uint16(len(b.cp))
}

// addInteger appends a CONSTANT_Integer entry and returns its 1-based
// index; boolean/byte/char/short/int annotation element_values all
// reference one of these (JVM spec 4.7.16.1).
func (b *classBuilder) addInteger(v int32) uint16 {
	var e bytes.Buffer
	e.WriteByte(cpInteger)
	binary.Write(&e, binary.BigEndian, uint32(v))
	b.cp = append(b.cp, e.Bytes())
	return uint16(len(b.cp))
}

// methodSpec is one method_info entry for buildWithMethods.
type methodSpec struct {
	nameIdx uint16
	descIdx uint16
	attrs   []attrSpec
}

// elementValue is one annotation element_value_pair: its name_index plus
// the element_value's tag and already-encoded payload.
type elementValue struct {
	nameIdx uint16
	tag     byte
	payload []byte
}

// enumValue encodes an 'e' (enum_const_value) element_value payload.
func enumValue(enumTypeIdx, constNameIdx uint16) []byte {
	var p bytes.Buffer
	binary.Write(&p, binary.BigEndian, enumTypeIdx)
	binary.Write(&p, binary.BigEndian, constNameIdx)
	return p.Bytes()
}

// constRefValue encodes a 'B'/'C'/'I'/'S'/'Z' const_value_index payload.
func constRefValue(cpIdx uint16) []byte {
	var p bytes.Buffer
	binary.Write(&p, binary.BigEndian, cpIdx)
	return p.Bytes()
}

// annotationAttr builds a RuntimeVisibleAnnotations attribute body with a
// single annotation of the given type, carrying the given element_value
// pairs.
func annotationAttr(typeIdx uint16, values []elementValue) []byte {
	var c bytes.Buffer
	binary.Write(&c, binary.BigEndian, uint16(1))          // num_annotations
	binary.Write(&c, binary.BigEndian, typeIdx)             // type_index
	binary.Write(&c, binary.BigEndian, uint16(len(values))) // num_element_value_pairs
	for _, v := range values {
		binary.Write(&c, binary.BigEndian, v.nameIdx)
		c.WriteByte(v.tag)
		c.Write(v.payload)
	}
	return c.Bytes()
}

// singleMarkerAnnotationAttr builds a RuntimeVisibleAnnotations attribute
// body with a single marker annotation (no element-value pairs) of the given type
// descriptor index.
func singleMarkerAnnotationAttr(typeIdx uint16) []byte {
	var c bytes.Buffer
	binary.Write(&c, binary.BigEndian, uint16(1)) // num_annotations
	binary.Write(&c, binary.BigEndian, typeIdx)   // type_index
	binary.Write(&c, binary.BigEndian, uint16(0)) // num_element_value_pairs
	return c.Bytes()
}

type attrSpec struct {
	nameIdx uint16
	content []byte
}

func writeAttrs(buf *bytes.Buffer, attrs []attrSpec) {
	binary.Write(buf, binary.BigEndian, uint16(len(attrs)))
	for _, a := range attrs {
		binary.Write(buf, binary.BigEndian, a.nameIdx)
		binary.Write(buf, binary.BigEndian, uint32(len(a.content)))
		buf.Write(a.content)
	}
}

// build assembles the full classfile: this_class/super_class indices,
// access flags, zero interfaces/fields/methods, and the given class-level
// attributes.
func (b *classBuilder) build(accessFlags, thisClass, superClass uint16, classAttrs []attrSpec) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(classMagic))
	binary.Write(&out, binary.BigEndian, uint16(0))  // minor
	binary.Write(&out, binary.BigEndian, uint16(52)) // major (Java 8)

	binary.Write(&out, binary.BigEndian, uint16(len(b.cp)+1)) // constant_pool_count
	for _, e := range b.cp {
		out.Write(e)
	}

	binary.Write(&out, binary.BigEndian, accessFlags)
	binary.Write(&out, binary.BigEndian, thisClass)
	binary.Write(&out, binary.BigEndian, superClass)
	binary.Write(&out, binary.BigEndian, uint16(0)) // interfaces_count
	binary.Write(&out, binary.BigEndian, uint16(0)) // fields_count
	binary.Write(&out, binary.BigEndian, uint16(0)) // methods_count
	writeAttrs(&out, classAttrs)

	return out.Bytes()
}

// buildWithMethods is build but also encodes a methods section, for tests
// that need method-level attributes (e.g. RuntimeVisibleAnnotations
// carrying @Transactional).
func (b *classBuilder) buildWithMethods(accessFlags, thisClass, superClass uint16, methods []methodSpec, classAttrs []attrSpec) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(classMagic))
	binary.Write(&out, binary.BigEndian, uint16(0))  // minor
	binary.Write(&out, binary.BigEndian, uint16(52)) // major (Java 8)

	binary.Write(&out, binary.BigEndian, uint16(len(b.cp)+1)) // constant_pool_count
	for _, e := range b.cp {
		out.Write(e)
	}

	binary.Write(&out, binary.BigEndian, accessFlags)
	binary.Write(&out, binary.BigEndian, thisClass)
	binary.Write(&out, binary.BigEndian, superClass)
	binary.Write(&out, binary.BigEndian, uint16(0)) // interfaces_count
	binary.Write(&out, binary.BigEndian, uint16(0)) // fields_count

	binary.Write(&out, binary.BigEndian, uint16(len(methods))) // methods_count
	for _, m := range methods {
		binary.Write(&out, binary.BigEndian, uint16(0x0001)) // ACC_PUBLIC
		binary.Write(&out, binary.BigEndian, m.nameIdx)
		binary.Write(&out, binary.BigEndian, m.descIdx)
		writeAttrs(&out, m.attrs)
	}

	writeAttrs(&out, classAttrs)

	return out.Bytes()
}

// TestParseClassFile_DefaultBeanName implements spec §8 S1: a class
// com.test.UserServiceImpl annotated @Service with no value.
func TestParseClassFile_DefaultBeanName(t *testing.T) {
	b := newClassBuilder()
	nameIdx := b.addUtf8("com/test/UserServiceImpl")
	thisClassIdx := b.addClass(nameIdx)
	superNameIdx := b.addUtf8("java/lang/Object")
	superClassIdx := b.addClass(superNameIdx)
	attrNameIdx := b.addUtf8("RuntimeVisibleAnnotations")
	serviceDescIdx := b.addUtf8("Lorg/springframework/stereotype/Service;")

	data := b.build(0x0021, thisClassIdx, superClassIdx, []attrSpec{
		{nameIdx: attrNameIdx, content: singleMarkerAnnotationAttr(serviceDescIdx)},
	})

	cf, err := parseClassFile(data)
	require.NoError(t, err)
	require.Equal(t, "com/test/UserServiceImpl", cf.className(cf.thisClass))
	require.Equal(t, "java/lang/Object", cf.className(cf.superClass))

	a := New()
	nodes, _, err := a.extract("UserServiceImpl.class", cf)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	class := nodes[0]
	require.Equal(t, "com.test.UserServiceImpl", class.FQN)
	require.Equal(t, "service", class.Attrs["spring_bean_type"])
	require.Equal(t, "userServiceImpl", class.Attrs["spring_bean_name"])
	require.Equal(t, "cglib", class.Attrs["proxy_type"])
}

// TestExtractMethod_TransactionalAttributes implements spec §8 S2: a
// method annotated @Transactional(propagation=REQUIRES_NEW,
// isolation=SERIALIZABLE, timeout=30, readOnly=true) must surface all four
// attributes, including the integer- and boolean-valued ones that depend on
// the constant pool carrying real CONSTANT_Integer values through to
// cpIntValue.
func TestExtractMethod_TransactionalAttributes(t *testing.T) {
	b := newClassBuilder()
	nameIdx := b.addUtf8("com/test/OrderService")
	thisClassIdx := b.addClass(nameIdx)
	superNameIdx := b.addUtf8("java/lang/Object")
	superClassIdx := b.addClass(superNameIdx)

	methodNameIdx := b.addUtf8("placeOrder")
	methodDescIdx := b.addUtf8("()V")

	attrNameIdx := b.addUtf8("RuntimeVisibleAnnotations")
	transactionalDescIdx := b.addUtf8("Lorg/springframework/transaction/annotation/Transactional;")

	propagationNameIdx := b.addUtf8("propagation")
	isolationNameIdx := b.addUtf8("isolation")
	timeoutNameIdx := b.addUtf8("timeout")
	readOnlyNameIdx := b.addUtf8("readOnly")

	propagationEnumTypeIdx := b.addUtf8("Lorg/springframework/transaction/annotation/Propagation;")
	propagationConstNameIdx := b.addUtf8("REQUIRES_NEW")
	isolationEnumTypeIdx := b.addUtf8("Lorg/springframework/transaction/annotation/Isolation;")
	isolationConstNameIdx := b.addUtf8("SERIALIZABLE")

	timeoutCpIdx := b.addInteger(30)
	readOnlyCpIdx := b.addInteger(1)

	annAttr := annotationAttr(transactionalDescIdx, []elementValue{
		{nameIdx: propagationNameIdx, tag: 'e', payload: enumValue(propagationEnumTypeIdx, propagationConstNameIdx)},
		{nameIdx: isolationNameIdx, tag: 'e', payload: enumValue(isolationEnumTypeIdx, isolationConstNameIdx)},
		{nameIdx: timeoutNameIdx, tag: 'I', payload: constRefValue(timeoutCpIdx)},
		{nameIdx: readOnlyNameIdx, tag: 'Z', payload: constRefValue(readOnlyCpIdx)},
	})

	data := b.buildWithMethods(0x0021, thisClassIdx, superClassIdx,
		[]methodSpec{
			{
				nameIdx: methodNameIdx,
				descIdx: methodDescIdx,
				attrs:   []attrSpec{{nameIdx: attrNameIdx, content: annAttr}},
			},
		},
		nil,
	)

	cf, err := parseClassFile(data)
	require.NoError(t, err)

	a := New()
	nodes, _, err := a.extract("OrderService.class", cf)
	require.NoError(t, err)
	require.Len(t, nodes, 2) // class node + one method node

	method := nodes[1]
	require.Equal(t, store.KindMethod, method.Kind)
	require.Equal(t, "REQUIRES_NEW", method.Attrs["transaction_propagation"])
	require.Equal(t, "SERIALIZABLE", method.Attrs["transaction_isolation"])
	require.Equal(t, 30, method.Attrs["transaction_timeout"])
	require.Equal(t, true, method.Attrs["transaction_read_only"])
}

func TestParseClassFile_BadMagic(t *testing.T) {
	_, err := parseClassFile([]byte{0, 0, 0, 0})
	require.Error(t, err)
}

func TestDescriptorToFQN(t *testing.T) {
	require.Equal(t, "com.acme.Foo", descriptorToFQN("Lcom/acme/Foo;"))
	require.Equal(t, "I", descriptorToFQN("I"))
}

func TestIsPrimitiveOrBoxedOrString(t *testing.T) {
	require.True(t, isPrimitiveOrBoxedOrString("I"))
	require.True(t, isPrimitiveOrBoxedOrString("java.lang.String"))
	require.True(t, isPrimitiveOrBoxedOrString("java.lang.Integer"))
	require.False(t, isPrimitiveOrBoxedOrString("com.acme.Foo"))
}

func TestInferProxy(t *testing.T) {
	require.Equal(t, proxyCGLIB, inferProxy(true, true, 2))
	require.Equal(t, proxyCGLIB, inferProxy(true, false, 0))
	require.Equal(t, proxyJDKOrCGLIB, inferProxy(true, false, 1))
	require.Equal(t, proxyUndefined, inferProxy(false, false, 1))
}

func TestInstructionLength_Invoke(t *testing.T) {
	code := []byte{0xB6, 0x00, 0x01} // invokevirtual #1
	require.Equal(t, 3, instructionLength(code, 0))

	iface := []byte{0xB9, 0x00, 0x01, 0x01, 0x00} // invokeinterface #1, count, 0
	require.Equal(t, 5, instructionLength(iface, 0))
}
