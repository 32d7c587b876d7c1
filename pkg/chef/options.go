package chef

// Options holds host-independent settings for chef-solo runs.
type Options struct {
	// SoloPath caches kitchens on the remote host, one directory per resource.
	SoloPath string `mapstructure:"solo_path" validate:"required"`

	// RubygemPath is where the gem binary lives on the remote host.
	RubygemPath string `mapstructure:"rubygem_path" validate:"required"`

	// BerkshelfVersion is installed when a Berksfile is given.
	BerkshelfVersion string `mapstructure:"berkshelf_version" validate:"required"`

	// LibrarianChefVersion is installed when a Cheffile is given.
	LibrarianChefVersion string `mapstructure:"librarian_chef_version" validate:"required"`

	// InstallURL is the omnibus installer fetched by the bootstrap script.
	InstallURL string `mapstructure:"install_url" validate:"required,url"`
}

// DefaultOptions returns the default chef-solo settings.
func DefaultOptions() Options {
	return Options{
		SoloPath:             "/tmp/heat_chef",
		RubygemPath:          "/opt/chef/embedded/bin",
		BerkshelfVersion:     "2.0.15",
		LibrarianChefVersion: "0.0.2",
		InstallURL:           "https://www.opscode.com/chef/install.sh",
	}
}
