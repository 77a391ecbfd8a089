package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/eargollo/dochub/internal/media"
)

// Azure is a Backend over an Azure Blob Storage container. Folders are
// virtual: they exist as long as at least one blob carries their prefix.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzure creates the client and ensures the container exists.
func NewAzure(ctx context.Context, cfg AzureConfig) (*Azure, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: azure container not configured", ErrRootNotFound)
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		var cred azcore.TokenCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, fmt.Errorf("initialize container %s: %w", cfg.Container, err)
		}
	}

	return &Azure{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (a *Azure) String() string { return "azure:" + Join(a.container, a.prefix) }

func (a *Azure) WriteFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := validatePath(folder); err != nil {
		return "", err
	}
	rel := Join(folder, name)
	contentType := media.ContentType(name)
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, objectKey(a.prefix, rel), data, opts); err != nil {
		return "", fmt.Errorf("upload blob %s: %w", rel, err)
	}
	return rel, nil
}

func (a *Azure) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, objectKey(a.prefix, p), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("download blob %s: %w", p, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", p, err)
	}
	return data, nil
}

func (a *Azure) Delete(ctx context.Context, p string) error {
	if err := validatePath(p); err != nil {
		return err
	}
	if _, err := a.client.DeleteBlob(ctx, a.container, objectKey(a.prefix, p), nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fmt.Errorf("delete blob %s: %w", p, err)
	}
	return nil
}

func (a *Azure) ListSubdirectories(ctx context.Context, folder string) ([]string, error) {
	var dirs []string
	err := a.list(ctx, folder, func(seg container.BlobHierarchyListSegment, listed string) {
		for _, bp := range seg.BlobPrefixes {
			if bp.Name != nil {
				dirs = append(dirs, childName(listed, *bp.Name))
			}
		}
	})
	sort.Strings(dirs)
	return dirs, err
}

func (a *Azure) ListFiles(ctx context.Context, folder string) ([]FileInfo, error) {
	var files []FileInfo
	err := a.list(ctx, folder, func(seg container.BlobHierarchyListSegment, listed string) {
		for _, item := range seg.BlobItems {
			if item.Name == nil {
				continue
			}
			fi := FileInfo{Name: childName(listed, *item.Name)}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					fi.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					fi.ModTime = *props.LastModified
				}
			}
			files = append(files, fi)
		}
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, err
}

func (a *Azure) list(ctx context.Context, folder string, fn func(container.BlobHierarchyListSegment, string)) error {
	if err := validatePath(folder); err != nil {
		return err
	}
	listed := listPrefix(a.prefix, folder)
	pager := a.client.ServiceClient().
		NewContainerClient(a.container).
		NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &listed})

	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return errors.Join(ErrRootNotFound, err)
			}
			return fmt.Errorf("list blobs %s: %w", listed, err)
		}
		if resp.Segment != nil {
			fn(*resp.Segment, listed)
		}
	}
	return nil
}
