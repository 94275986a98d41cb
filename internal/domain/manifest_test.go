package domain

import "testing"

func TestComposeManifestValidate(t *testing.T) {
	valid := ComposeManifest{
		Image: ObjectRef{ObjectKey: "uploads/base.png", MimeType: "image/png"},
		Layers: []ObjectRef{
			{ObjectKey: "uploads/logo.svg", MimeType: "image/svg+xml"},
			{ObjectKey: "uploads/frame.webp"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid manifest, got error: %v", err)
	}

	noLayers := ComposeManifest{Image: ObjectRef{ObjectKey: "base.jpg"}}
	if err := noLayers.Validate(); err != nil {
		t.Fatalf("expected a manifest without layers to be valid, got %v", err)
	}

	if err := (ComposeManifest{}).Validate(); err == nil {
		t.Fatal("expected validation error for empty manifest")
	}

	missingLayerKey := ComposeManifest{
		Image:  ObjectRef{ObjectKey: "base.png"},
		Layers: []ObjectRef{{ObjectKey: "a.png"}, {ObjectKey: "  "}},
	}
	err := missingLayerKey.Validate()
	if err == nil {
		t.Fatal("expected validation error for blank layer key")
	}
	if got := err.Error(); got != "layers[1]: object_key is required" {
		t.Fatalf("unexpected error %q", got)
	}

	absolute := ComposeManifest{Image: ObjectRef{ObjectKey: "/etc/passwd"}}
	if err := absolute.Validate(); err == nil {
		t.Fatal("expected validation error for absolute key")
	}
}
