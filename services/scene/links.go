package scene

import "modkit/services/content"

// LinkedAssetResolver reads and writes the file reference carried by one kind of linked-content
// component. The path field is rewritten by the build backend; the identifier field is the backup
// that survives it.
type LinkedAssetResolver interface {
	Kind() string
	Path(c *content.Component) string
	SetPath(c *content.Component, asset string)
	Identifier(c *content.Component) string
	SetIdentifier(c *content.Component, guid string)
	// Map reports whether the component references a baked acoustic map that must be added to the
	// addressed content set.
	Map() bool
}

// FieldResolver is a LinkedAssetResolver over two named component fields.
type FieldResolver struct {
	ComponentKind string
	PathField     string
	BackupField   string
	IsMap         bool
}

func (r FieldResolver) Kind() string { return r.ComponentKind }
func (r FieldResolver) Map() bool    { return r.IsMap }

func (r FieldResolver) Path(c *content.Component) string { return c.Field(r.PathField) }

func (r FieldResolver) SetPath(c *content.Component, asset string) { c.SetField(r.PathField, asset) }

func (r FieldResolver) Identifier(c *content.Component) string { return c.Field(r.BackupField) }

func (r FieldResolver) SetIdentifier(c *content.Component, guid string) {
	c.SetField(r.BackupField, guid)
}

// AcousticResolvers returns the resolvers for the acoustic geometry and acoustic map components.
func AcousticResolvers() []LinkedAssetResolver {
	return []LinkedAssetResolver{
		FieldResolver{
			ComponentKind: KindAcousticGeometry,
			PathField:     "relativeFilePath",
			BackupField:   "fileGuidBackup",
		},
		FieldResolver{
			ComponentKind: KindAcousticMap,
			PathField:     "relativeFilePath",
			BackupField:   "fileGuidBackup",
			IsMap:         true,
		},
	}
}
