package extension

const ext0002 = "0002-flat-direct-storage-layout"

// LayoutFlatDirect implements 0002-flat-direct-storage-layout: the object
// ID is used verbatim as its storage-root-relative path.
type LayoutFlatDirect struct {
	Base
}

// Ext0002 returns a new 0002-flat-direct-storage-layout.
func Ext0002() Extension {
	return &LayoutFlatDirect{Base: Base{ExtensionName: ext0002}}
}

func (l LayoutFlatDirect) Resolve(id string) (string, error) { return id, nil }
