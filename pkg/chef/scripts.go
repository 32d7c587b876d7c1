package chef

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/remote"
)

// Kitchen layout names.
const (
	CookbooksDir     = "cookbooks"
	SiteCookbooksDir = "site-cookbooks"
	DataBagsDir      = "data_bags"
	CertificatesDir  = "certificates"
	NodesDir         = "nodes"
	SecretsFile      = "secrets.pem"
	KnifeFile        = "knife.rb"
	ChefLogFile      = "chef.log"

	encryptedKey = "encrypted"
)

const updatePackageManager = `
case node[:platform]
when "redhat", "centos"
  execute "yum makecache"
when "ubuntu", "debian"
  execute 'apt-get update'
end
`

// Scripts generates and runs the chef-solo provisioning steps on one host.
type Scripts struct {
	remote *remote.Remote
	opts   Options

	// secretKey is the PEM data bag secret written by CreateSecretsFile.
	secretKey []byte
}

// NewScripts creates the script set for r.
func NewScripts(r *remote.Remote, opts Options) *Scripts {
	return &Scripts{remote: r, opts: opts}
}

// SecretKey returns the last generated data bag secret.
func (s *Scripts) SecretKey() []byte {
	return s.secretKey
}

// Bootstrap downloads the omnibus installer into execPath and installs chef.
// An empty version installs the latest release.
func (s *Scripts) Bootstrap(ctx context.Context, version, execPath string) error {
	output := path.Join(execPath, "install.sh")
	versionArg := ""
	if version != "" {
		versionArg = " -v " + version
	}

	body := fmt.Sprintf("wget -O %s %s\nbash %s %s", output, s.opts.InstallURL, output, versionArg)
	_, err := s.remote.RunScript(ctx, "bootstrap", remote.Script{Body: body, Save: true}, execPath, "")
	return err
}

// RunChef runs chef-solo with the given knife config and node file.
func (s *Scripts) RunChef(ctx context.Context, knifePath, nodePath, execPath string) error {
	body := fmt.Sprintf("chef-solo -c %s -j %s", knifePath, nodePath)
	_, err := s.remote.RunScript(ctx, "run_chef", remote.Script{Body: body, Save: true}, execPath, "")
	return err
}

// EncryptDataBag encrypts a data bag item in place with the secret file.
func (s *Scripts) EncryptDataBag(ctx context.Context, dataBag, itemPath, configPath, secretPath, execPath string) error {
	body := fmt.Sprintf("knife data bag from file %s %s -c %s --secret-file %s -z",
		dataBag, itemPath, configPath, secretPath)
	_, err := s.remote.RunScript(ctx, "encrypt_data_bag", remote.Script{Body: body, Save: true}, execPath, "")
	return err
}

// CreateSecretsFile generates a 2048-bit RSA key, writes it PEM encoded to
// dir/name and returns the remote path.
func (s *Scripts) CreateSecretsFile(ctx context.Context, dir, name string) (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", fmt.Errorf("failed to generate data bag secret: %w", err)
	}

	s.secretKey = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	return s.remote.WriteRemoteFile(ctx, dir, name, s.secretKey, 0o600)
}

// WriteDataBags writes every data bag item under dir/data_bags and returns
// that directory. Items marked encrypted are encrypted with secretPath
// after being written.
func (s *Scripts) WriteDataBags(ctx context.Context, dir string, dataBags map[string]map[string]any, kitchenPath, knifePath, secretPath string) (string, error) {
	bagsDir, err := s.remote.CreateRemoteDirectory(ctx, dir, DataBagsDir)
	if err != nil {
		return "", err
	}

	for _, name := range sortedKeys(dataBags) {
		item := dataBags[name]

		bagPath, err := s.remote.CreateRemoteDirectory(ctx, bagsDir, name)
		if err != nil {
			return "", err
		}

		itemName := fmt.Sprintf("%v.json", item["id"])

		if encrypted, _ := item[encryptedKey].(bool); encrypted {
			plain := make(map[string]any, len(item))
			for k, v := range item {
				if k != encryptedKey {
					plain[k] = v
				}
			}

			itemPath, err := s.remote.WriteRemoteJSON(ctx, bagPath, itemName, plain)
			if err != nil {
				return "", err
			}
			if err := s.EncryptDataBag(ctx, name, itemPath, knifePath, secretPath, kitchenPath); err != nil {
				return "", err
			}
			continue
		}

		if _, err := s.remote.WriteRemoteJSON(ctx, bagPath, itemName, item); err != nil {
			return "", err
		}
	}

	return bagsDir, nil
}

// CreateKitchenFolder writes each entry of contents as a JSON file under
// kitchenPath/folder. Nothing is created when contents is nil.
func (s *Scripts) CreateKitchenFolder(ctx context.Context, folder string, contents map[string]map[string]any, kitchenPath string) error {
	if contents == nil {
		return nil
	}

	dir, err := s.remote.CreateRemoteDirectory(ctx, kitchenPath, folder)
	if err != nil {
		return err
	}

	for _, name := range sortedKeys(contents) {
		if _, err := s.remote.WriteRemoteJSON(ctx, dir, name, contents[name]); err != nil {
			return err
		}
	}
	return nil
}

// RunRecipe installs recipe as the default recipe of a throwaway cookbook
// and converges it with chef-solo.
func (s *Scripts) RunRecipe(ctx context.Context, cookbookName, recipe, kitchenPath, cookbookPath string) error {
	cookbook, err := s.remote.CreateRemoteDirectory(ctx, cookbookPath, cookbookName)
	if err != nil {
		return err
	}
	recipes, err := s.remote.CreateRemoteDirectory(ctx, cookbook, "recipes")
	if err != nil {
		return err
	}
	if _, err := s.remote.WriteRemoteFile(ctx, recipes, "default.rb", []byte(recipe), 0); err != nil {
		return err
	}

	knifeRB, err := s.remote.WriteRemoteFile(ctx, kitchenPath, KnifeFile,
		[]byte(fmt.Sprintf("cookbook_path %q", cookbookPath)), 0)
	if err != nil {
		return err
	}

	nodeJSON, err := s.remote.WriteRemoteJSON(ctx, kitchenPath, "localhost.json", map[string]any{
		"run_list": []string{fmt.Sprintf("recipe[%s]", cookbookName)},
	})
	if err != nil {
		return err
	}

	_, err = s.remote.ExecuteRemoteCommand(ctx, "run_recipe",
		fmt.Sprintf("chef-solo -c %s -j %s", knifeRB, nodeJSON),
		remote.WithExecPath(kitchenPath))
	return err
}

// InstallerDependencies converges a recipe that installs the build
// toolchain and the given installer gem.
func (s *Scripts) InstallerDependencies(ctx context.Context, installer, kitchenPath, cookbookPath, version string) error {
	recipe := fmt.Sprintf(`%s
case node[:platform]
when "redhat", "centos"
  package "ruby-devel"
  package "avr-gcc-c++"
  package "gecode-devel"
  package "gcc-c++"
when "ubuntu", "debian"
  package "libgecode-dev"
  package "ruby1.9.1-dev"
  package "g++"
end
package "gcc"
package "make"
package "git"

ENV["USE_SYSTEM_GECODE"] = "1"

gem_package "%s" do
  gem_binary("%s")
  version "%s"
end`, updatePackageManager, installer, path.Join(s.opts.RubygemPath, "gem"), version)

	return s.RunRecipe(ctx, "installer_dependencies", recipe, kitchenPath, cookbookPath)
}

// InstallCookbooks installs cookbooks into cookbookPath with berkshelf when a
// Berksfile is given, otherwise with librarian-chef when a Cheffile is given.
func (s *Scripts) InstallCookbooks(ctx context.Context, props *Properties, kitchenPath, cookbookPath string) error {
	var (
		content, file, cmd, pkg, version, lock string
	)

	switch {
	case props.Berksfile != "":
		content, file, cmd, pkg = props.Berksfile, PropBerksfile, "berks", "berkshelf"
		version = s.opts.BerkshelfVersion
		lock = props.BerksfileLock
	case props.Cheffile != "":
		content, file, cmd, pkg = props.Cheffile, PropCheffile, "librarian-chef", "librarian-chef"
		version = s.opts.LibrarianChefVersion
	default:
		log.Debug().Str("host", props.Host).Msg("No Berksfile or Cheffile, skipping cookbook install")
		return nil
	}

	if err := s.InstallerDependencies(ctx, pkg, kitchenPath, cookbookPath, version); err != nil {
		return err
	}

	if _, err := s.remote.WriteRemoteFile(ctx, kitchenPath, file, []byte(content), 0); err != nil {
		return err
	}
	if lock != "" {
		if _, err := s.remote.WriteRemoteFile(ctx, kitchenPath, file+".lock", []byte(lock), 0); err != nil {
			return err
		}
	}

	installer := path.Join(s.opts.RubygemPath, cmd)
	_, err := s.remote.ExecuteRemoteCommand(ctx, "install_cookbooks",
		fmt.Sprintf("%s install --path %s", installer, cookbookPath),
		remote.WithExecPath(kitchenPath))
	return err
}

// Databags writes the data bags of props into the kitchen. When any item is
// marked encrypted a secret is generated first and its path returned.
func (s *Scripts) Databags(ctx context.Context, props *Properties, kitchenPath, knifePath string) (string, error) {
	if props.DataBags == nil {
		return "", nil
	}

	secretPath := ""
	if props.HasEncryptedDataBags() {
		certs, err := s.remote.CreateRemoteDirectory(ctx, kitchenPath, CertificatesDir)
		if err != nil {
			return "", err
		}
		secretPath, err = s.CreateSecretsFile(ctx, certs, SecretsFile)
		if err != nil {
			return "", err
		}
	}

	if _, err := s.WriteDataBags(ctx, kitchenPath, props.DataBags, kitchenPath, knifePath, secretPath); err != nil {
		return "", err
	}
	return secretPath, nil
}

// KnifeConfig renders the knife.rb of a kitchen.
func KnifeConfig(kitchenPath, fileCachePath, secretPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "log_level :info\n")
	fmt.Fprintf(&b, "log_location %q\n", path.Join(kitchenPath, ChefLogFile))
	fmt.Fprintf(&b, "verbose_logging true\n")
	fmt.Fprintf(&b, "ssl_verify_mode :verify_none\n")
	fmt.Fprintf(&b, "file_cache_path %q\n", fileCachePath)
	fmt.Fprintf(&b, "data_bag_path %q\n", path.Join(kitchenPath, DataBagsDir))
	fmt.Fprintf(&b, "cookbook_path [%q, %q]\n",
		path.Join(kitchenPath, CookbooksDir), path.Join(kitchenPath, SiteCookbooksDir))
	fmt.Fprintf(&b, "environments_path %q\n", path.Join(kitchenPath, PropEnvironments))
	fmt.Fprintf(&b, "role_path %q\n", path.Join(kitchenPath, PropRoles))
	if secretPath != "" {
		fmt.Fprintf(&b, "encrypted_data_bag_secret %q\n", secretPath)
	}
	return b.String()
}

// KnifeRB writes the knife.rb of a kitchen to knifePath.
func (s *Scripts) KnifeRB(ctx context.Context, kitchenPath, knifePath, fileCachePath, secretPath string) error {
	content := KnifeConfig(kitchenPath, fileCachePath, secretPath)
	_, err := s.remote.WriteRemoteFile(ctx, path.Dir(knifePath), path.Base(knifePath), []byte(content), 0)
	return err
}

// CreateRemoteKitchen lays out roles, users, clients and environments in
// kitchenPath and installs cookbooks.
func (s *Scripts) CreateRemoteKitchen(ctx context.Context, props *Properties, kitchenPath string) error {
	folders := []struct {
		name     string
		contents map[string]map[string]any
	}{
		{PropRoles, props.Roles},
		{PropUsers, props.Users},
		{PropClients, props.Clients},
		{PropEnvironments, props.Environments},
	}
	for _, f := range folders {
		if err := s.CreateKitchenFolder(ctx, f.name, f.contents, kitchenPath); err != nil {
			return err
		}
	}

	cookbookPath, err := s.remote.CreateRemoteDirectory(ctx, kitchenPath, CookbooksDir)
	if err != nil {
		return err
	}
	return s.InstallCookbooks(ctx, props, kitchenPath, cookbookPath)
}

// CloneKitchen installs git and clones the kitchen repository of props
// into execPath.
func (s *Scripts) CloneKitchen(ctx context.Context, props *Properties, execPath string) error {
	cookbookPath, err := s.remote.CreateRemoteDirectory(ctx, execPath, CookbooksDir)
	if err != nil {
		return err
	}

	recipe := updatePackageManager + "package \"git\"\n"
	if err := s.RunRecipe(ctx, "install_git", recipe, execPath, cookbookPath); err != nil {
		return err
	}

	body := fmt.Sprintf("git clone %s kitchen\ncp -r kitchen/* .\nrm -rf kitchen\n", props.Kitchen)
	_, err = s.remote.RunScript(ctx, "clone_kitchen", remote.Script{Body: body, Save: true}, execPath, "")
	return err
}
