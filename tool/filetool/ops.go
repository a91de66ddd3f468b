package filetool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/tool"
)

// Result is the structured outcome handed back to the model.
type Result struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Size    int64  `json:"size"`
}

// ReadResult carries the decoded content of read_file.
type ReadResult struct {
	Path       string `json:"path"`
	Characters int    `json:"characters"`
	Content    string `json:"content"`
}

// Info describes a file system entry.
type Info struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size,omitempty"`
	Modified    string `json:"modified"`
	Permissions string `json:"permissions"`
	LinkTarget  string `json:"link_target,omitempty"`
}

// Entry is a single item of a directory listing.
type Entry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// Listing is the outcome of list_directory.
type Listing struct {
	Directory string  `json:"directory"`
	Recursive bool    `json:"recursive"`
	Entries   []Entry `json:"entries"`
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func (ts *Toolset) createFileTool() tool.Tool {
	return tool.NewFunctionTool(
		"create_file",
		"Create an empty file in the given directory. Missing parent directories are created.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory": stringProp("Target directory path"),
				"fileName":  stringProp("File name without extension"),
				"extension": stringProp("File extension without the leading dot, e.g. txt"),
			},
			"required": []string{"directory", "fileName", "extension"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			dirArg, err := tool.RequiredStringArg(args, "directory")
			if err != nil {
				return nil, err
			}
			name, err := tool.RequiredStringArg(args, "fileName")
			if err != nil {
				return nil, err
			}
			ext := strings.TrimLeft(tool.StringArg(args, "extension"), ".")
			if ext == "" {
				return nil, errors.New("extension must not be empty")
			}

			dir, err := ts.resolve(dirArg)
			if err != nil {
				return nil, err
			}

			path, err := joinName(dir, name+"."+ext)
			if err != nil {
				return nil, err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
			if err != nil {
				if errors.Is(err, fs.ErrExist) {
					return nil, fmt.Errorf("file already exists: %s", path)
				}
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			tc.Logger().Info("filetool.create_file", "path", path)

			return Result{Path: path, Message: "file created"}, nil
		},
	)
}

func (ts *Toolset) createDirectoryTool() tool.Tool {
	return tool.NewFunctionTool(
		"create_directory",
		"Create a directory including any missing parents.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": stringProp("Directory path to create"),
			},
			"required": []string{"path"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			path, err := ts.resolve(tool.StringArg(args, "path"))
			if err != nil {
				return nil, err
			}

			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return nil, fmt.Errorf("a file with that name already exists: %s", path)
			}

			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}

			tc.Logger().Info("filetool.create_directory", "path", path)

			return Result{Path: path, Message: "directory created"}, nil
		},
	)
}

func (ts *Toolset) readFileTool() tool.Tool {
	return tool.NewFunctionTool(
		"read_file",
		fmt.Sprintf("Read a text file (UTF-8 by default, at most %d MB).", ts.opts.MaxReadBytes/(1024*1024)),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": stringProp("Full file path"),
				"encoding": stringProp("Text encoding such as UTF-8 or GBK (default UTF-8)"),
			},
			"required": []string{"filePath"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			enc, err := lookupEncoding(tool.StringArg(args, "encoding"))
			if err != nil {
				return nil, err
			}

			path, err := ts.resolve(tool.StringArg(args, "filePath"))
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("not a regular file: %s", path)
			}
			if info.Size() > ts.opts.MaxReadBytes {
				return nil, fmt.Errorf("file too large (%.2f MB > %.2f MB)",
					float64(info.Size())/(1024*1024), float64(ts.opts.MaxReadBytes)/(1024*1024))
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}

			decoded, err := enc.NewDecoder().Bytes(raw)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}

			return ReadResult{
				Path:       path,
				Characters: utf8.RuneCount(decoded),
				Content:    string(decoded),
			}, nil
		},
	)
}

func (ts *Toolset) writeFileTool() tool.Tool {
	return tool.NewFunctionTool(
		"write_file",
		"Write content to a file, overwriting it or appending to it (UTF-8 by default).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": stringProp("Full file path"),
				"content":  stringProp("Content to write"),
				"append": map[string]any{
					"type":        "boolean",
					"description": "Append instead of overwrite (default false)",
				},
				"encoding": stringProp("Text encoding such as UTF-8 or GBK (default UTF-8)"),
			},
			"required": []string{"filePath", "content"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			enc, err := lookupEncoding(tool.StringArg(args, "encoding"))
			if err != nil {
				return nil, err
			}

			path, err := ts.resolve(tool.StringArg(args, "filePath"))
			if err != nil {
				return nil, err
			}

			// content is written verbatim, whitespace included
			content, _ := args["content"].(string)
			appendMode := tool.BoolArg(args, "append", false)

			encoded, err := enc.NewEncoder().String(content)
			if err != nil {
				return nil, fmt.Errorf("encode content: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}

			flags := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}

			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return nil, err
			}

			if _, err := f.WriteString(encoded); err != nil {
				_ = f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}

			msg := "file written"
			if appendMode {
				msg = "content appended"
			}

			tc.Logger().Info("filetool.write_file", "path", path, "append", appendMode, "size", info.Size())

			return Result{Path: path, Message: msg, Size: info.Size()}, nil
		},
	)
}

func (ts *Toolset) deleteFileTool() tool.Tool {
	return tool.NewFunctionTool(
		"delete_file",
		"Delete the file at the given path. Directories are not deleted.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": stringProp("Full path of the file to delete"),
			},
			"required": []string{"filePath"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			path, err := ts.resolve(tool.StringArg(args, "filePath"))
			if err != nil {
				return nil, err
			}
			return ts.deleteFile(tc, path)
		},
	)
}

func (ts *Toolset) deleteFileByPartsTool() tool.Tool {
	return tool.NewFunctionTool(
		"delete_file_by_parts",
		"Delete a file given its directory and its file name (including extension).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory": stringProp("Directory containing the file"),
				"fileName":  stringProp("File name including extension"),
			},
			"required": []string{"directory", "fileName"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			name, err := tool.RequiredStringArg(args, "fileName")
			if err != nil {
				return nil, err
			}

			dir, err := ts.resolve(tool.StringArg(args, "directory"))
			if err != nil {
				return nil, err
			}

			path, err := joinName(dir, name)
			if err != nil {
				return nil, err
			}

			return ts.deleteFile(tc, path)
		},
	)
}

func (ts *Toolset) deleteFile(tc *core.ToolContext, path string) (any, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file does not exist: %s", path)
		}
		return nil, err
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if err := os.Remove(path); err != nil {
		return nil, err
	}

	tc.Logger().Info("filetool.delete_file", "path", path)

	return Result{Path: path, Message: "file deleted"}, nil
}

func (ts *Toolset) fileInfoTool() tool.Tool {
	return tool.NewFunctionTool(
		"file_info",
		"Show details (type, size, modification time, permissions) of a file or directory.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": stringProp("File or directory path"),
			},
			"required": []string{"path"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			path, err := ts.resolve(tool.StringArg(args, "path"))
			if err != nil {
				return nil, err
			}

			linfo, err := os.Lstat(path)
			if err != nil {
				return nil, err
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}

			out := Info{
				Path:        abs,
				Type:        statKind(linfo),
				Modified:    linfo.ModTime().Format(time.DateTime),
				Permissions: linfo.Mode().Perm().String(),
			}

			if linfo.Mode()&os.ModeSymlink != 0 {
				if target, err := os.Readlink(path); err == nil {
					out.LinkTarget = target
				}
			}

			if linfo.Mode().IsRegular() {
				out.Size = linfo.Size()
			}

			return out, nil
		},
	)
}

func (ts *Toolset) listDirectoryTool() tool.Tool {
	return tool.NewFunctionTool(
		"list_directory",
		"List the files and sub directories of a directory.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dirPath": stringProp("Directory path"),
				"recursive": map[string]any{
					"type":        "boolean",
					"description": "List the whole tree (default false)",
				},
			},
			"required": []string{"dirPath"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			dir, err := ts.resolve(tool.StringArg(args, "dirPath"))
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(dir)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				return nil, fmt.Errorf("not a directory: %s", dir)
			}

			listing := Listing{Directory: dir, Recursive: tool.BoolArg(args, "recursive", false), Entries: []Entry{}}

			if !listing.Recursive {
				entries, err := os.ReadDir(dir)
				if err != nil {
					return nil, err
				}
				for _, e := range entries {
					listing.Entries = append(listing.Entries, Entry{Path: e.Name(), Type: entryType(e)})
				}
				return listing, nil
			}

			err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}
				if err := tc.Context().Err(); err != nil {
					return err
				}
				if p == dir {
					return nil
				}
				rel, err := filepath.Rel(dir, p)
				if err != nil {
					return err
				}
				listing.Entries = append(listing.Entries, Entry{Path: filepath.ToSlash(rel), Type: entryType(d)})
				return nil
			})
			if err != nil {
				return nil, err
			}

			return listing, nil
		},
	)
}

func entryType(d fs.DirEntry) string {
	if d.IsDir() {
		return "directory"
	}
	return "file"
}
