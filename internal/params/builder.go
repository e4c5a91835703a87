package params

// Builder collects fields and aliases before producing a Normalizer. Each
// Build call returns a fresh instance, so one builder can seed many
// independent normalizers.
type Builder struct {
	fields  []Field
	aliases []Alias
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Field(name string, def any) *Builder {
	b.fields = append(b.fields, Field{Name: name, Default: def})
	return b
}

func (b *Builder) Fields(fields ...Field) *Builder {
	b.fields = append(b.fields, fields...)
	return b
}

func (b *Builder) Alias(from, to string) *Builder {
	b.aliases = append(b.aliases, Alias{From: from, To: to})
	return b
}

func (b *Builder) Build() *Normalizer {
	return New(b.fields, b.aliases)
}
